// Package logging points the standard logger at stderr and, optionally, at a
// size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	MaxSizeMB  = 64
	MaxBackups = 5
	MaxAgeDays = 30
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup routes log output to stderr plus path when path is non-empty. The
// returned closer flushes and closes the file.
func Setup(path string) (io.Closer, error) {
	return setup(os.Stderr, path)
}

func setup(console io.Writer, path string) (io.Closer, error) {
	if path == "" {
		log.SetOutput(console)
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
	}
	log.SetOutput(io.MultiWriter(console, file))
	return file, nil
}
