// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package logging provides structured logging for the part management
// backend.
//
// The logger is built on Go's standard library slog package with two
// destinations:
//
//   - stderr: always on, text format, follows Unix conventions
//   - log file: optional, JSON format, written asynchronously
//
// File writes go through a bounded queue serviced by a single writer
// goroutine so request handling is never blocked on disk I/O. The log
// file is capped by size: when an append would push the file past the
// cap, the oldest half of the file is truncated away and writing
// continues in place. There are no rotated backup files, just the one
// capped log.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  cfg.LogDir,
//	    Service: "partserver",
//	})
//	defer logger.Close() // drains the write queue
//
//	logger.Info("part created", "part_number", p.PartNumber)
//
// # Security
//
// Nothing is redacted automatically. Callers must not log tokens or
// API keys; log presence flags instead.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level. Unknown values fall back
// to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// String returns "DEBUG", "INFO", "WARN" or "ERROR".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultMaxFileBytes caps the log file at 2 GiB, matching the size
// limit the deployment scripts assume.
const DefaultMaxFileBytes = 2 * 1024 * 1024 * 1024

// queueDepth bounds the async write queue. When the queue is full the
// record is dropped rather than blocking the caller.
const queueDepth = 1024

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity to emit.
	Level Level

	// LogDir enables file logging when non-empty. The file is named
	// {Service}_{YYYY-MM-DD}.log inside this directory.
	LogDir string

	// Service names the log file and is attached to every record.
	Service string

	// MaxFileBytes caps the log file size. Zero means
	// DefaultMaxFileBytes.
	MaxFileBytes int64
}

// Logger wraps slog with an optional async, size-capped file sink.
type Logger struct {
	slogger *slog.Logger
	file    *cappedFileWriter
	mu      sync.Mutex
	closed  bool
}

// New creates a Logger from config.
//
// stderr logging always works. If LogDir is set but the directory or
// file cannot be created, the error is reported on stderr and the
// logger continues stderr-only rather than failing startup.
func New(config Config) *Logger {
	if config.Service == "" {
		config.Service = "aerie"
	}
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = DefaultMaxFileBytes
	}

	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}

	logger := &Logger{}

	if config.LogDir != "" {
		if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot create log dir %s: %v\n", config.LogDir, err)
		} else {
			name := fmt.Sprintf("%s_%s.log", config.Service, time.Now().Format("2006-01-02"))
			fw, err := newCappedFileWriter(filepath.Join(config.LogDir, name), config.MaxFileBytes)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logging: cannot open log file: %v\n", err)
			} else {
				logger.file = fw
				handlers = append(handlers, slog.NewJSONHandler(fw, opts))
			}
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}
	logger.slogger = slog.New(handler).With("service", config.Service)
	return logger
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

// Debug logs at debug level with alternating key-value args.
func (l *Logger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }

// Info logs at info level with alternating key-value args.
func (l *Logger) Info(msg string, args ...any) { l.slogger.Info(msg, args...) }

// Warn logs at warn level with alternating key-value args.
func (l *Logger) Warn(msg string, args ...any) { l.slogger.Warn(msg, args...) }

// Error logs at error level with alternating key-value args.
func (l *Logger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

// With returns a Logger that includes the given attributes on every
// record. The derived logger shares the file sink; only Close the
// root logger.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...)}
}

// Slog exposes the underlying slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// Close drains the async queue and closes the log file. Safe to call
// more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.file == nil {
		l.closed = true
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// multiHandler fans a record out to every destination.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// cappedFileWriter appends log lines to a single file through a
// bounded queue. When an append would exceed maxBytes, the oldest half
// of the file is discarded first.
type cappedFileWriter struct {
	path     string
	maxBytes int64

	queue chan []byte
	done  chan struct{}

	qmu    sync.Mutex
	closed bool

	mu   sync.Mutex
	file *os.File
	size int64
}

func newCappedFileWriter(path string, maxBytes int64) (*cappedFileWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	w := &cappedFileWriter{
		path:     path,
		maxBytes: maxBytes,
		queue:    make(chan []byte, queueDepth),
		done:     make(chan struct{}),
		file:     file,
		size:     info.Size(),
	}
	go w.run()
	return w, nil
}

// Write queues one record. The slice is copied because slog reuses
// buffers. A full queue drops the record instead of blocking, and a
// write after Close is discarded.
func (w *cappedFileWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)

	w.qmu.Lock()
	defer w.qmu.Unlock()
	if w.closed {
		return len(p), nil
	}
	select {
	case w.queue <- line:
	default:
	}
	return len(p), nil
}

func (w *cappedFileWriter) run() {
	defer close(w.done)
	for line := range w.queue {
		w.append(line)
	}
}

func (w *cappedFileWriter) append(line []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	if w.size+int64(len(line)) > w.maxBytes {
		if err := w.truncateOldest(); err != nil {
			fmt.Fprintf(os.Stderr, "logging: truncate failed: %v\n", err)
			return
		}
	}
	n, err := w.file.Write(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: write failed: %v\n", err)
		return
	}
	w.size += int64(n)
}

// truncateOldest rewrites the file keeping only the newest half of its
// lines. Called with w.mu held.
func (w *cappedFileWriter) truncateOldest() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	raw, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	lines := strings.SplitAfter(string(raw), "\n")
	keep := strings.Join(lines[len(lines)/2:], "")

	if err := os.WriteFile(w.path, []byte(keep), 0o644); err != nil {
		return err
	}
	file, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = file
	w.size = int64(len(keep))
	return nil
}

// Close drains pending records and closes the file.
func (w *cappedFileWriter) Close() error {
	w.qmu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.qmu.Unlock()
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
