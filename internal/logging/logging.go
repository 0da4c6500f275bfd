// Package logging provides the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// L is the global logger used throughout the codebase.
var L zerolog.Logger

var (
	mu        sync.Mutex
	logFile   *os.File
	consoleOn = true
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// SetLogLevel adjusts the global minimum level.
func SetLogLevel(level zerolog.Level) {
	L = L.Level(level)
}

// SetLogOutput directs logs to dir/name in addition to (or instead of) the console,
// reopening the global logger around the new writer set.
func SetLogOutput(dir, name string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	logFile = f

	writers := []io.Writer{f}
	if consoleOn {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level := L.GetLevel()
	L = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger().Level(level)
	return nil
}

// SetConsoleOutput toggles whether logs are mirrored to stderr alongside the file sink.
func SetConsoleOutput(on bool) {
	mu.Lock()
	consoleOn = on
	mu.Unlock()
}

// Close flushes and releases the file sink, if one was opened.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
