package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"realmsdb/pkg/config"

	"github.com/google/uuid"
)

type ReplCommand func(string, *REPLConfig) (output string, err error)

const (
	// Trigger for the help meta-command that prints out all help strings
	TriggerHelpMetacommand = ".help"

	// String that should be prepended to any error before being sent to the output writer
	ErrorPrependStr = "ERROR: "
)

var (
	// Error for combining REPLs that share a trigger
	ErrOverlappingCommands = errors.New("found overlapping")

	// Error for when a sent trigger is not associated with any known commands
	ErrCommandNotFound = errors.New("command not found")

	// Error for registering a command under a meta-command trigger
	ErrReservedTrigger = errors.New("trigger is reserved")
)

// REPL struct.
type REPL struct {
	commands map[string]ReplCommand
	help     map[string]string
}

// REPL Config struct.
type REPLConfig struct {
	clientId uuid.UUID
}

// Get the id of the client running the command.
func (replConfig *REPLConfig) GetAddr() uuid.UUID {
	return replConfig.clientId
}

// NewConfig returns the config a command sees when run for clientId.
func NewConfig(clientId uuid.UUID) *REPLConfig {
	return &REPLConfig{clientId: clientId}
}

// Construct an empty REPL.
func NewRepl() *REPL {
	return &REPL{make(map[string]ReplCommand), make(map[string]string)}
}

// Combines a slice of REPLs.
/*
	- Error if the REPLs being combined have any overlapping commands (same trigger).
	- If no REPLs are given, return a new empty REPL.
*/
func CombineRepls(repls []*REPL) (*REPL, error) {
	newrepl := NewRepl()
	for _, r := range repls {
		for trigger, action := range r.commands {
			if _, exists := newrepl.commands[trigger]; exists {
				return nil, fmt.Errorf("%w: %s", ErrOverlappingCommands, trigger)
			}
			newrepl.commands[trigger] = action
			newrepl.help[trigger] = r.help[trigger]
		}
	}
	return newrepl, nil
}

// Get commands.
func (r *REPL) GetCommands() map[string]ReplCommand {
	return r.commands
}

// Get help.
func (r *REPL) GetHelp() map[string]string {
	return r.help
}

// Add a command, along with its help string, to the set of commands.
// A duplicate trigger overwrites the previous command.
func (r *REPL) AddCommand(trigger string, action ReplCommand, help string) error {
	if trigger == TriggerHelpMetacommand {
		return ErrReservedTrigger
	}
	r.commands[trigger] = action
	r.help[trigger] = help
	return nil
}

// Return all REPL commands' help strings as one string, sorted by trigger.
func (r *REPL) HelpString() string {
	triggers := make([]string, 0, len(r.help))
	for k := range r.help {
		triggers = append(triggers, k)
	}
	sort.Strings(triggers)
	var sb strings.Builder
	for _, k := range triggers {
		fmt.Fprintf(&sb, "%s: %s\n", k, r.help[k])
	}
	return sb.String()
}

// Execute runs one line of input and returns what the REPL would print for
// it, without the prompt.
func (r *REPL) Execute(payload string, replConfig *REPLConfig) string {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return ""
	}
	trigger := fields[0]
	if trigger == TriggerHelpMetacommand {
		return r.HelpString()
	}
	command, exists := r.commands[trigger]
	if !exists {
		return fmt.Sprintf("%s%s\n", ErrorPrependStr, ErrCommandNotFound)
	}
	result, err := command(payload, replConfig)
	if err != nil {
		return fmt.Sprintf("%s%s\n", ErrorPrependStr, err)
	}
	// Append newline if there is output and if it doesn't end with a newline already
	if len(result) != 0 && !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result
}

/*
Writes the welcome string and then runs the REPL loop.
- Each line is handed whole to the command named by its first word.
- '.help' prints every command's help string.
- Unknown commands and command errors are printed prefixed with ErrorPrependStr.

Input and output default to Stdin and Stdout if not specified.
*/
func (r *REPL) Run(clientId uuid.UUID, prompt string, input io.Reader, output io.Writer) {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}

	scanner := bufio.NewScanner(input)
	replConfig := NewConfig(clientId)
	fmt.Fprintf(output, "Welcome to the %s REPL! Please type '%s' to see the list of available commands.\n",
		config.DBName, TriggerHelpMetacommand)
	io.WriteString(output, prompt)

	for scanner.Scan() {
		io.WriteString(output, r.Execute(scanner.Text(), replConfig))
		io.WriteString(output, prompt)
	}
	// Print an additional line if we encountered an EOF character.
	io.WriteString(output, "\n")
}
