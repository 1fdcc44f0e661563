// Package log implements structured, leveled logging for the castlefs
// version manager, in the spirit of the geth `log` package it is modeled
// on: a small set of levels, key/value pairs instead of printf verbs, and
// a root logger that every package-level helper (Info, Warn, ...) writes
// through.
package log

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
)

// Lvl is a log severity level, ordered from most to least severe.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
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
		return "UNKNOWN"
	}
}

// Record is a single logging event, passed to a Handler for formatting.
type Record struct {
	Time time.Time
	Lvl  Lvl
	Msg  string
	Ctx  []interface{}   // alternating key, value pairs
	Call stack.CallStack // captured by Crit only
}

// Handler consumes a Record, typically by formatting and writing it somewhere.
type Handler interface {
	Log(r *Record) error
}

// Logger emits Records, optionally enriched with a fixed context established
// via New.
type Logger interface {
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})

	SetHandler(h Handler)
}

type logger struct {
	ctx []interface{}
	h   *swapHandler
}

// swapHandler wraps a Handler so SetHandler can be changed concurrently
// with logging calls in flight, mirroring geth's log.swapHandler.
type swapHandler struct {
	mu sync.RWMutex
	h  Handler
}

func (s *swapHandler) Log(r *Record) error {
	s.mu.RLock()
	h := s.h
	s.mu.RUnlock()
	return h.Log(r)
}

func (s *swapHandler) Swap(h Handler) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

// New creates a Logger with ctx appended to every future Record's context.
func New(ctx ...interface{}) Logger {
	root.mu.RLock()
	defer root.mu.RUnlock()
	return root.log.New(ctx...)
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := make([]interface{}, 0, len(l.ctx)+len(ctx))
	child = append(child, l.ctx...)
	child = append(child, ctx...)
	return &logger{ctx: child, h: l.h}
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	full := make([]interface{}, 0, len(l.ctx)+len(ctx))
	full = append(full, l.ctx...)
	full = append(full, ctx...)

	r := &Record{Time: time.Now(), Lvl: lvl, Msg: msg, Ctx: normalize(full)}
	if lvl == LvlCrit {
		r.Call = captureStack()
	}
	l.h.Log(r)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

// Crit logs at LvlCrit and then terminates the process. It is reserved for
// the invariant violations the version manager treats as fatal: a corrupt
// parent pointer, a deregister of an untracked id, a detach of a record
// that was never attached.
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	os.Exit(1)
}

func (l *logger) SetHandler(h Handler) {
	l.h.Swap(h)
}

// normalize pads an odd-length context with a "MISSING-VALUE" marker,
// matching the teacher's log15-derived behavior. Values are left as they
// are; error values are rendered as text later, by the Format.
func normalize(ctx []interface{}) []interface{} {
	if len(ctx)%2 != 0 {
		ctx = append(ctx, "MISSING-VALUE")
	}
	return ctx
}

var root = struct {
	mu  sync.RWMutex
	log *logger
}{}

func init() {
	root.log = &logger{h: new(swapHandler)}
	root.log.h.Swap(NewTerminalHandler(os.Stderr))
}

// Root returns the root logger, the one Info/Warn/... write through.
func Root() Logger {
	root.mu.RLock()
	defer root.mu.RUnlock()
	return root.log
}

// SetDefault replaces the root logger's handler.
func SetDefault(h Handler) {
	root.mu.Lock()
	defer root.mu.Unlock()
	root.log.SetHandler(h)
}

func Trace(msg string, ctx ...interface{}) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { Root().Crit(msg, ctx...) }

// Fmt is a convenience used where a caller wants printf-style construction of
// the message but still structured ctx, e.g. log.Warn(log.Fmt("bad id %d", id)).
func Fmt(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
