package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"realmsdb/pkg/blobstore"
	"realmsdb/pkg/cube"
	"realmsdb/pkg/entry"
	"realmsdb/pkg/geom"
	"realmsdb/pkg/idset"
	"realmsdb/pkg/logging"
	"realmsdb/pkg/octree"
	"realmsdb/pkg/repl"

	"github.com/google/uuid"
)

// Lines printed by "log" when no count is given.
const defaultTailLines = 10

// session is the scratch state of one REPL client.
type session struct {
	ids    *idset.Set
	staged map[string][]IndexPoint
}

type sessions struct {
	mu       sync.Mutex
	universe int
	byClient map[uuid.UUID]*session
}

func (s *sessions) get(client uuid.UUID) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	ses, ok := s.byClient[client]
	if !ok {
		ses = &session{ids: idset.New(s.universe), staged: make(map[string][]IndexPoint)}
		s.byClient[client] = ses
	}
	return ses
}

// Creates a DB Repl for the given database.
func DatabaseRepl(db *Database) *repl.REPL {
	r := repl.NewRepl()
	ss := &sessions{universe: db.cfg.Universe, byClient: make(map[uuid.UUID]*session)}

	r.AddCommand("cube", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleCube(db, payload)
	}, "Cube partition keys. usage: cube encode <x> <y> <z> | cube decode <id> | cube intersect <x> <y> <z> <radius>")

	r.AddCommand("idset", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleIdSet(ss.get(replConfig.GetAddr()), payload)
	}, "Scratch id set. usage: idset new [universe] | idset add|remove <id>... | idset has <id> | idset size|list|clear")

	r.AddCommand("index", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleIndex(db, ss.get(replConfig.GetAddr()), payload)
	}, "Octree indexes. usage: index put <name> <x> <y> <z> <id> | index build|size|print|drop <name> | "+
		"index contains <name> <x> <y> <z> | index query <name> <x> <y> <z> <radius> | index list")

	r.AddCommand("blob", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleBlob(db, payload)
	}, "Blob store. usage: blob put <mimetype> <locator> <data> | blob get <id> | blob find <mimetype> <locator> | "+
		"blob update <id> <locator> <data> | blob del <id> <locator> | blob stats|list|types")

	r.AddCommand("log", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleLog(db, payload)
	}, "Print the end of the log file. usage: log [lines]")

	r.AddCommand("backup", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleBackup(db, payload)
	}, "Copy the data directory. usage: backup <dir>")

	return r
}

// guard turns a panic carrying an error into a returned error.
func guard(f func() (string, error)) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}
			output, err = "", e
		}
	}()
	return f()
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInt32(field string) (int32, error) {
	v, err := strconv.ParseInt(field, 10, 32)
	return int32(v), err
}

// rest returns payload after its first n fields.
func rest(payload string, n int) string {
	s := payload
	for i := 0; i < n; i++ {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		s = s[end:]
	}
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

// Handle cube commands.
func HandleCube(d *Database, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	p := d.Partition()
	switch {
	case len(fields) == 5 && fields[1] == "encode":
		v, err := parseFloats(fields[2:5])
		if err != nil {
			return "", fmt.Errorf("cube error: %v", err)
		}
		id := p.Encode(v[0], v[1], v[2])
		return fmt.Sprintf("%s center %v bounds %v\n", cube.String(id), p.DecodeCenter(id), p.DecodeBounds(id)), nil
	case len(fields) == 3 && fields[1] == "decode":
		id, err := strconv.ParseUint(fields[2], 0, 64)
		if err != nil {
			return "", fmt.Errorf("cube error: %v", err)
		}
		return fmt.Sprintf("center %v bounds %v\n", p.DecodeCenter(id), p.DecodeBounds(id)), nil
	case len(fields) == 6 && fields[1] == "intersect":
		v, err := parseFloats(fields[2:6])
		if err != nil {
			return "", fmt.Errorf("cube error: %v", err)
		}
		var sb strings.Builder
		for it := p.Intersect(geom.NewSphere(geom.Pt(v[0], v[1], v[2]), v[3])); it.Next(); {
			fmt.Fprintf(&sb, "%s %v\n", cube.String(it.CubeID()), it.Bounds())
		}
		return sb.String(), nil
	default:
		return "", fmt.Errorf("usage: cube encode <x> <y> <z> | cube decode <id> | cube intersect <x> <y> <z> <radius>")
	}
}

// Handle id set commands against the client's scratch set.
func HandleIdSet(ses *session, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	if len(fields) < 2 {
		return "", fmt.Errorf("usage: idset new [universe] | idset add|remove <id>... | idset has <id> | idset size|list|clear")
	}
	return guard(func() (string, error) {
		switch fields[1] {
		case "new":
			universe := ses.ids.Universe()
			if len(fields) == 3 {
				n, err := strconv.Atoi(fields[2])
				if err != nil || n <= 0 {
					return "", fmt.Errorf("idset error: bad universe %q", fields[2])
				}
				universe = n
			}
			ses.ids = idset.New(universe)
			return fmt.Sprintf("new set with universe %d\n", universe), nil
		case "add", "remove":
			changed := 0
			for _, f := range fields[2:] {
				id, err := parseInt32(f)
				if err != nil {
					return "", fmt.Errorf("idset error: %v", err)
				}
				if fields[1] == "add" && ses.ids.Add(id) || fields[1] == "remove" && ses.ids.Remove(id) {
					changed++
				}
			}
			return fmt.Sprintf("%d changed, size %d\n", changed, ses.ids.Size()), nil
		case "has":
			if len(fields) != 3 {
				return "", fmt.Errorf("usage: idset has <id>")
			}
			id, err := parseInt32(fields[2])
			if err != nil {
				return "", fmt.Errorf("idset error: %v", err)
			}
			return fmt.Sprintln(ses.ids.Contains(id)), nil
		case "size":
			mode := "sparse"
			if ses.ids.IsDense() {
				mode = "dense"
			}
			return fmt.Sprintf("%d of %d (%s)\n", ses.ids.Size(), ses.ids.Universe(), mode), nil
		case "list":
			return ses.ids.String() + "\n", nil
		case "clear":
			ses.ids.Clear()
			return "", nil
		default:
			return "", fmt.Errorf("idset error: unknown subcommand %q", fields[1])
		}
	})
}

// Handle index commands.
func HandleIndex(d *Database, ses *session, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	if len(fields) == 2 && fields[1] == "list" {
		var sb strings.Builder
		for _, name := range d.Indexes() {
			idx, err := d.GetIndex(name)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "%s: %d entries in %v\n", name, idx.Size(), idx.Bounds())
		}
		return sb.String(), nil
	}
	if len(fields) < 3 {
		return "", fmt.Errorf("usage: index put|build|size|print|drop|contains|query <name> ...")
	}
	name := fields[2]
	switch {
	case fields[1] == "put" && len(fields) == 7:
		v, err := parseFloats(fields[3:6])
		if err != nil {
			return "", fmt.Errorf("index error: %v", err)
		}
		id, err := parseInt32(fields[6])
		if err != nil {
			return "", fmt.Errorf("index error: %v", err)
		}
		if id == entry.NoID {
			return "", fmt.Errorf("index error: %w", octree.ErrReservedID)
		}
		ses.staged[name] = append(ses.staged[name], IndexPoint{P: geom.Pt(v[0], v[1], v[2]), ID: id})
		return fmt.Sprintf("%d points staged for %s\n", len(ses.staged[name]), name), nil
	case fields[1] == "build" && len(fields) == 3:
		idx, err := d.BuildIndex(name, ses.staged[name])
		if err != nil {
			return "", fmt.Errorf("index error: %w", err)
		}
		delete(ses.staged, name)
		return fmt.Sprintf("index %s built with %d entries.\n", name, idx.Size()), nil
	case fields[1] == "drop" && len(fields) == 3:
		if err := d.DropIndex(name); err != nil {
			return "", fmt.Errorf("index error: %w", err)
		}
		return fmt.Sprintf("index %s dropped.\n", name), nil
	}

	idx, err := d.GetIndex(name)
	if err != nil {
		return "", fmt.Errorf("index error: %w", err)
	}
	switch {
	case fields[1] == "size" && len(fields) == 3:
		return fmt.Sprintf("%d\n", idx.Size()), nil
	case fields[1] == "print" && len(fields) == 3:
		var sb strings.Builder
		if err := idx.Print(&sb); err != nil {
			return "", err
		}
		return sb.String(), nil
	case fields[1] == "contains" && len(fields) == 6:
		v, err := parseFloats(fields[3:6])
		if err != nil {
			return "", fmt.Errorf("index error: %v", err)
		}
		ok, err := idx.Contains(v[0], v[1], v[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintln(ok), nil
	case fields[1] == "query" && len(fields) == 7:
		v, err := parseFloats(fields[3:7])
		if err != nil {
			return "", fmt.Errorf("index error: %v", err)
		}
		var sb strings.Builder
		n, err := idx.Intersect(geom.NewSphere(geom.Pt(v[0], v[1], v[2]), v[3]), func(e octree.Entry[int32]) error {
			entry.New(e.Point, e.ID).Print(&sb)
			return nil
		})
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%d found\n", n)
		return sb.String(), nil
	default:
		return "", fmt.Errorf("index error: bad arguments for %q", fields[1])
	}
}

// describe renders a resource for the REPL.
func describe(res *blobstore.Resource) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v locators %v\n", res, res.Locators())
	md := res.Metadata()
	for _, name := range res.Type().Fields() {
		if v, ok := md[name]; ok {
			fmt.Fprintf(&sb, "  %s = %v\n", name, v)
		}
	}
	if utf8.Valid(res.Data()) {
		fmt.Fprintf(&sb, "  %q\n", res.Data())
	} else {
		fmt.Fprintf(&sb, "  % x\n", res.Data())
	}
	return sb.String()
}

func getResource(d *Database, field string) (*blobstore.Resource, error) {
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return nil, err
	}
	res, err := d.Blobs().Get(id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("no blob #%d", id)
	}
	return res, nil
}

// Handle blob store commands.
func HandleBlob(d *Database, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	if len(fields) < 2 {
		return "", fmt.Errorf("usage: blob put|get|find|update|del|stats|list|types ...")
	}
	store := d.Blobs()
	switch {
	case fields[1] == "put" && len(fields) >= 4:
		locator, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return "", fmt.Errorf("blob error: %v", err)
		}
		res, err := store.Insert(fields[2], locator, []byte(rest(payload, 4)))
		if err != nil {
			return "", fmt.Errorf("blob error: %w", err)
		}
		return describe(res), nil
	case fields[1] == "get" && len(fields) == 3:
		res, err := getResource(d, fields[2])
		if err != nil {
			return "", fmt.Errorf("blob error: %w", err)
		}
		return describe(res), nil
	case fields[1] == "find" && len(fields) == 4:
		locator, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return "", fmt.Errorf("blob error: %v", err)
		}
		res, err := store.GetByLocator(fields[2], locator)
		if err != nil {
			return "", fmt.Errorf("blob error: %w", err)
		}
		if res == nil {
			return "not found\n", nil
		}
		return describe(res), nil
	case fields[1] == "update" && len(fields) >= 4:
		res, err := getResource(d, fields[2])
		if err != nil {
			return "", fmt.Errorf("blob error: %w", err)
		}
		locator, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return "", fmt.Errorf("blob error: %v", err)
		}
		res, err = store.Update(res, locator, []byte(rest(payload, 4)))
		if err != nil {
			return "", fmt.Errorf("blob error: %w", err)
		}
		return describe(res), nil
	case fields[1] == "del" && len(fields) == 4:
		res, err := getResource(d, fields[2])
		if err != nil {
			return "", fmt.Errorf("blob error: %w", err)
		}
		locator, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return "", fmt.Errorf("blob error: %v", err)
		}
		if err := store.Delete(res, locator); err != nil {
			return "", fmt.Errorf("blob error: %w", err)
		}
		return fmt.Sprintf("released #%d for locator %d.\n", res.ID(), locator), nil
	case fields[1] == "stats" && len(fields) == 2:
		st, err := store.Stats()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("records %d, references %d, bytes %d, cached %d\n",
			st.Records, st.References, st.Bytes, st.Cached), nil
	case fields[1] == "list" && len(fields) == 2:
		var sb strings.Builder
		err := store.Each(func(res *blobstore.Resource) bool {
			fmt.Fprintf(&sb, "%v\n", res)
			return true
		})
		return sb.String(), err
	case fields[1] == "types" && len(fields) == 2:
		return strings.Join(store.Types().Mimetypes(), "\n") + "\n", nil
	default:
		return "", fmt.Errorf("blob error: bad arguments for %q", fields[1])
	}
}

// Handle log tailing.
func HandleLog(d *Database, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	n := defaultTailLines
	switch len(fields) {
	case 1:
	case 2:
		if n, err = strconv.Atoi(fields[1]); err != nil {
			return "", fmt.Errorf("log error: %v", err)
		}
	default:
		return "", fmt.Errorf("usage: log [lines]")
	}
	lines, err := logging.Tail(logging.Path(d.cfg), n)
	if err != nil {
		return "", fmt.Errorf("log error: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// Handle backup.
func HandleBackup(d *Database, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	if len(fields) != 2 {
		return "", errors.New("usage: backup <dir>")
	}
	if err := d.Backup(fields[1]); err != nil {
		return "", fmt.Errorf("backup error: %w", err)
	}
	return fmt.Sprintf("backup written to %s.\n", fields[1]), nil
}
