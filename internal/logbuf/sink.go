// Package logbuf turns a child process's byte stream into diagnostic lines.
//
// A Sink is handed to exec.Cmd as both Stdout and Stderr. Every complete
// line is kept in a bounded history, logged through slog, and optionally
// copied to a rotating file.
package logbuf

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

const DefaultLines = 1000

// Sink is a thread-safe line splitter with a fixed-size history.
// It implements io.Writer.
type Sink struct {
	mu      sync.Mutex
	lines   []string
	size    int
	pos     int
	full    bool
	partial bytes.Buffer

	logger *slog.Logger
	level  slog.Level
	file   io.Writer
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger forwards each line to logger at the given level.
func WithLogger(logger *slog.Logger, level slog.Level) Option {
	return func(s *Sink) {
		s.logger = logger
		s.level = level
	}
}

// WithFile copies each line (newline-terminated) to w.
func WithFile(w io.Writer) Option {
	return func(s *Sink) {
		s.file = w
	}
}

// New creates a sink that keeps the last n lines.
func New(n int, opts ...Option) *Sink {
	if n <= 0 {
		n = DefaultLines
	}
	s := &Sink{
		lines: make([]string, n),
		size:  n,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write splits p on newlines. A trailing fragment is held until its newline arrives.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.partial.Write(p)

	var complete []string
	for {
		line, err := s.partial.ReadString('\n')
		if err != nil {
			s.partial.Reset()
			s.partial.WriteString(line)
			break
		}
		line = strings.TrimRight(line, "\r\n")
		s.store(line)
		complete = append(complete, line)
	}
	s.mu.Unlock()

	s.emit(complete)
	return len(p), nil
}

// Flush emits any buffered partial line. Call it after the process exits.
func (s *Sink) Flush() {
	s.mu.Lock()
	if s.partial.Len() == 0 {
		s.mu.Unlock()
		return
	}
	line := s.partial.String()
	s.partial.Reset()
	s.store(line)
	s.mu.Unlock()

	s.emit([]string{line})
}

func (s *Sink) store(line string) {
	s.lines[s.pos] = line
	s.pos = (s.pos + 1) % s.size
	if s.pos == 0 {
		s.full = true
	}
}

// emit runs outside the lock so a slow handler never blocks the child's pipe reader
// longer than one write.
func (s *Sink) emit(lines []string) {
	for _, line := range lines {
		if s.logger != nil {
			s.logger.Log(context.Background(), s.level, line)
		}
		if s.file != nil {
			_, _ = io.WriteString(s.file, line+"\n")
		}
	}
}

// Lines returns stored lines, oldest first.
func (s *Sink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		out := make([]string, s.pos)
		copy(out, s.lines[:s.pos])
		return out
	}
	out := make([]string, s.size)
	copy(out, s.lines[s.pos:])
	copy(out[s.size-s.pos:], s.lines[:s.pos])
	return out
}

// Last returns the last n lines, or all of them if fewer exist.
func (s *Sink) Last(n int) []string {
	all := s.Lines()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Tail joins the last n lines for inclusion in error messages.
func (s *Sink) Tail(n int) string {
	return strings.Join(s.Last(n), "\n")
}

// RotatingFile returns a size-rotated log file writer.
func RotatingFile(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
	}
}
