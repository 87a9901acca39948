// Package logx emits single-line key=value log records with a millisecond
// timestamp and a dotted tag, e.g.
//
//	2026-08-24T10:15:02.123Z rag.search query_len=12 top_k=4 hits=3
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	logger   = log.New(os.Stderr, "", 0)
	minLevel = LevelInfo
)

// SetLevel sets the minimum level from a config string. Unknown values keep
// the current level.
func SetLevel(s string) {
	switch strings.ToLower(s) {
	case "debug":
		minLevel = LevelDebug
	case "info":
		minLevel = LevelInfo
	case "warn", "warning":
		minLevel = LevelWarn
	case "error":
		minLevel = LevelError
	}
}

// SetOutput redirects log output (used by tests).
func SetOutput(l *log.Logger) { logger = l }

func emit(level Level, tag string, kv []any) {
	if level < minLevel {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')
	b.WriteString(tag)
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteByte(' ')
		fmt.Fprintf(&b, "%v=%v", kv[i], quote(kv[i+1]))
	}
	logger.Print(b.String())
}

func quote(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Debug logs a record at debug level. kv is alternating key, value pairs.
func Debug(tag string, kv ...any) { emit(LevelDebug, tag, kv) }

// Info logs a record at info level.
func Info(tag string, kv ...any) { emit(LevelInfo, tag, kv) }

// Warn logs a record at warn level.
func Warn(tag string, kv ...any) { emit(LevelWarn, tag, kv) }

// Error logs a record at error level.
func Error(tag string, kv ...any) { emit(LevelError, tag, kv) }
