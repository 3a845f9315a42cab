// Package logger builds the process-wide zerolog logger.
//
// Call Init once at startup. Components take a child logger from Component so
// every line carries the service and component names.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	// Service is stamped on every line as "service".
	Service string
	// Level is a zerolog level name. Unknown or empty values mean info.
	Level string
	// Pretty switches stdout to the coloured console format.
	Pretty bool
	// Output defaults to os.Stdout.
	Output io.Writer
	// File additionally writes JSON lines to a size-rotated file.
	File string
}

const (
	fileMaxSizeMB  = 100
	fileMaxBackups = 5
	fileMaxAgeDays = 14
)

var (
	mu   sync.Mutex
	root *zerolog.Logger
)

// Init builds the root logger. Later calls return the first logger unchanged.
func Init(opts Options) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root != nil {
		return *root
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var sink io.Writer = os.Stdout
	if opts.Output != nil {
		sink = opts.Output
	}
	if opts.Pretty {
		sink = zerolog.ConsoleWriter{Out: sink, TimeFormat: time.Kitchen}
	}
	if opts.File != "" {
		sink = zerolog.MultiLevelWriter(sink, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
			MaxAge:     fileMaxAgeDays,
			Compress:   true,
		})
	}

	lvl := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(lvl)

	ctx := zerolog.New(sink).Level(lvl).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	l := ctx.Logger()
	root = &l
	return l
}

// Component returns a child of the root logger tagged with name.
// It panics when Init has not run.
func Component(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		panic("logger: Component(" + name + ") before Init")
	}
	return root.With().Str("component", name).Logger()
}

// Reset drops the root logger. Tests only.
func Reset() {
	mu.Lock()
	root = nil
	mu.Unlock()
}

func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
