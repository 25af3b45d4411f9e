// Package logging sets up the process logger and reads the log file back.
package logging

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"realmsdb/pkg/config"
	"realmsdb/pkg/dberr"

	"github.com/icza/backscanner"
	"github.com/sirupsen/logrus"
)

// Logger is a logrus logger that also owns its log file.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// New builds a logger at the configured level writing text lines to
// stderr and to the log file in the data directory.
func New(cfg config.Config) (*Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0775); err != nil {
		return nil, dberr.Wrap("create data dir", cfg.DataDir, err)
	}
	path := Path(cfg)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return nil, dberr.Wrap("open log", path, err)
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(io.MultiWriter(os.Stderr, file))
	return &Logger{Logger: l, file: file}, nil
}

// Path returns the location of the log file for cfg.
func Path(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, config.LogFileName)
}

// Close flushes and closes the log file. Later entries go to stderr only.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	l.SetOutput(os.Stderr)
	err := l.file.Close()
	l.file = nil
	return err
}

// Tail returns the last n lines of the file at path, oldest first.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, dberr.Wrap("open log", path, err)
	}
	defer f.Close()
	fstats, err := f.Stat()
	if err != nil {
		return nil, dberr.Wrap("stat log", path, err)
	}

	scanner := backscanner.New(f, int(fstats.Size()))
	lines := make([]string, 0, n)
	first := true
	for len(lines) < n {
		line, _, err := scanner.LineBytes()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, dberr.Wrap("read log", path, err)
		}
		// The newline ending the file reads as an empty last line.
		if first && len(line) == 0 {
			first = false
			continue
		}
		first = false
		lines = append(lines, string(line))
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
