// Package xlog is a small structured, leveled logger in the same call
// shape as the teacher's logger (logger.Info("msg", "key", val, ...)),
// built from the same underlying libraries: go-stack/stack for caller
// capture and mattn/go-isatty + mattn/go-colorable for a color-aware
// console writer.
package xlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

type Level int

const (
	LvlError Level = iota
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) String() string {
	switch l {
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "?????"
	}
}

var levelColor = map[Level]string{
	LvlError: "\x1b[31m",
	LvlWarn:  "\x1b[33m",
	LvlInfo:  "\x1b[32m",
	LvlDebug: "\x1b[36m",
	LvlTrace: "\x1b[90m",
}

const resetColor = "\x1b[0m"

// Logger is the interface every component of the DHT core logs through.
type Logger interface {
	Error(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Debug(msg string, kv ...interface{})
	Trace(msg string, kv ...interface{})
	// New returns a child logger with additional fields bound to every
	// message it emits afterward.
	New(kv ...interface{}) Logger
}

type logger struct {
	mu     *sync.Mutex
	out    io.Writer
	color  bool
	level  Level
	prefix []interface{}
}

// New creates a root logger writing to w at the given minimum level. When w
// is an *os.File connected to a terminal, output is colorized.
func New(w io.Writer, level Level) Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	out := w
	if color {
		if f, ok := w.(*os.File); ok {
			out = colorable.NewColorable(f)
		}
	}
	return &logger{mu: &sync.Mutex{}, out: out, color: color, level: level}
}

// NewConsole is the conventional entrypoint: colorized stderr at the given
// level.
func NewConsole(level Level) Logger {
	return New(os.Stderr, level)
}

// LvlFromName parses a config log_level string ("error", "warn", "info",
// "debug", "trace") into a Level, defaulting to LvlInfo for anything else.
func LvlFromName(name string) Level {
	switch strings.ToLower(name) {
	case "error":
		return LvlError
	case "warn", "warning":
		return LvlWarn
	case "debug":
		return LvlDebug
	case "trace":
		return LvlTrace
	default:
		return LvlInfo
	}
}

func (l *logger) New(kv ...interface{}) Logger {
	child := *l
	child.prefix = append(append([]interface{}{}, l.prefix...), kv...)
	return &child
}

func (l *logger) log(lvl Level, msg string, kv []interface{}) {
	if lvl > l.level {
		return
	}
	var b strings.Builder
	ts := time.Now().Format("15:04:05.000")
	if l.color {
		b.WriteString(levelColor[lvl])
	}
	fmt.Fprintf(&b, "%-5s", lvl.String())
	if l.color {
		b.WriteString(resetColor)
	}
	fmt.Fprintf(&b, "[%s] %s", ts, msg)

	all := append(append([]interface{}{}, l.prefix...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	if lvl == LvlTrace {
		c := stack.Caller(2)
		fmt.Fprintf(&b, " caller=%+v", c)
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, b.String())
}

func (l *logger) Error(msg string, kv ...interface{}) { l.log(LvlError, msg, kv) }
func (l *logger) Warn(msg string, kv ...interface{})  { l.log(LvlWarn, msg, kv) }
func (l *logger) Info(msg string, kv ...interface{})  { l.log(LvlInfo, msg, kv) }
func (l *logger) Debug(msg string, kv ...interface{}) { l.log(LvlDebug, msg, kv) }
func (l *logger) Trace(msg string, kv ...interface{}) { l.log(LvlTrace, msg, kv) }

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger { return New(io.Discard, LvlError) }
