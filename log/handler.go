package log

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// streamHandler writes formatted Records to an io.Writer, serializing
// concurrent writers the way the teacher's StreamHandler does.
type streamHandler struct {
	mu  sync.Mutex
	w   io.Writer
	fmt Format
}

func (h *streamHandler) Log(r *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(h.fmt.Format(r))
	return err
}

// StreamHandler returns a Handler that writes to w using fmt.
func StreamHandler(w io.Writer, format Format) Handler {
	return &streamHandler{w: w, fmt: format}
}

// NewTerminalHandler returns the handler installed as the package default:
// colorized logfmt-ish output when w is an attached terminal
// (github.com/mattn/go-isatty), plain text otherwise, always going through
// github.com/mattn/go-colorable so that Windows consoles also get ANSI
// color support.
func NewTerminalHandler(w io.Writer) Handler {
	usesColor := false
	if f, ok := w.(*os.File); ok {
		usesColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return StreamHandler(colorable.NewColorable(toFile(w)), terminalFormat{color: usesColor})
}

// toFile is a narrow shim: colorable.NewColorable wants an *os.File; when the
// caller already passed a plain io.Writer (e.g. in tests) fall back to
// wrapping stderr so output still goes somewhere sane.
func toFile(w io.Writer) *os.File {
	if f, ok := w.(*os.File); ok {
		return f
	}
	return os.Stderr
}

// LvlFilterHandler wraps h, dropping any Record more verbose than maxLvl.
type lvlFilterHandler struct {
	max Lvl
	h   Handler
}

func (l *lvlFilterHandler) Log(r *Record) error {
	if r.Lvl > l.max {
		return nil
	}
	return l.h.Log(r)
}

// LvlFilterHandler returns a Handler that only forwards Records at or above
// maxLvl's severity (lower Lvl values are more severe).
func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return &lvlFilterHandler{max: maxLvl, h: h}
}

// MultiHandler fans a Record out to every handler in hs, matching the
// teacher's use of a broadcast handler to feed both a human-readable
// terminal stream and a machine-parseable logfmt file simultaneously.
func MultiHandler(hs ...Handler) Handler {
	return multiHandler(hs)
}

type multiHandler []Handler

func (hs multiHandler) Log(r *Record) error {
	var firstErr error
	for _, h := range hs {
		if err := h.Log(r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
