package logs

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	DEBUG Level = "debug"
	INFO  Level = "info"
	WARN  Level = "warn"
	ERROR Level = "error"
)

// Config captures options for building a Logger.
type Config struct {
	Level      string    // minimum level ("debug", "info", ...); defaults to info
	Output     io.Writer // defaults to os.Stdout
	Service    string    // attached to every entry; defaults to "idle-cache"
	BufferSize int       // recent entries kept in memory; defaults to 1000
}

type Entry struct {
	TimeStamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
}

// Logger is a zerolog logger that also keeps its most recent entries in a
// bounded in-memory buffer, so they can be served by the admin API and
// inspected by the health analyzer.
type Logger struct {
	zerolog.Logger
	ring *ring
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = "idle-cache"
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = 1000
	}

	r := &ring{entries: make([]Entry, 0, size), maxSize: size}

	zl := zerolog.New(zerolog.MultiLevelWriter(out, r)).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{Logger: zl, ring: r}
}

// NewLogger returns a logger that only records into the in-memory buffer.
// level: minimum log level to record
//
// maxSize: maximum number of log entries kept in memory
func NewLogger(maxSize int, level Level) *Logger {
	return New(Config{
		Level:      string(level),
		Output:     io.Discard,
		BufferSize: maxSize,
	})
}

// WithComponent returns a child logger annotated with the component name.
// It writes to the same buffer.
func (l *Logger) WithComponent(component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

func (l *Logger) GetLast(n int) []Entry {
	return l.ring.last(n)
}

// ring keeps the last maxSize entries written by zerolog.
type ring struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
}

type rawEntry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// Write receives one complete JSON event per call from zerolog.
func (r *ring) Write(p []byte) (int, error) {
	var raw rawEntry
	if err := json.Unmarshal(p, &raw); err != nil {
		// not ours to fail the caller over
		return len(p), nil
	}

	e := Entry{
		TimeStamp: raw.Time,
		Level:     Level(strings.ToLower(raw.Level)),
		Component: raw.Component,
		Message:   raw.Message,
	}
	if e.TimeStamp.IsZero() {
		e.TimeStamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.maxSize {
		// drop oldest
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, e)

	return len(p), nil
}

func (r *ring) last(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > len(r.entries) {
		n = len(r.entries)
	}
	if n < 0 {
		n = 0
	}

	start := len(r.entries) - n
	out := make([]Entry, n)
	copy(out, r.entries[start:])
	return out
}
