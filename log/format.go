package log

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Format turns a Record into a single line of output. It mirrors the two
// renderings the teacher's log package supports: an aligned terminal form
// (colorized only on a terminal; NewTerminalHandler uses it uncolored for
// redirected output) and a plain logfmt form.
type Format interface {
	Format(r *Record) []byte
}

type terminalFormat struct {
	color bool
}

var lvlColor = map[Lvl]int{
	LvlCrit:  35, // magenta
	LvlError: 31, // red
	LvlWarn:  33, // yellow
	LvlInfo:  32, // green
	LvlDebug: 36, // cyan
	LvlTrace: 90, // bright black
}

func (f terminalFormat) Format(r *Record) []byte {
	var buf bytes.Buffer

	ts := r.Time.Format("2006-01-02T15:04:05-0700")
	lvl := r.Lvl.String()

	if f.color {
		fmt.Fprintf(&buf, "\x1b[%dm%-5s\x1b[0m[%s] %s", lvlColor[r.Lvl], lvl, ts, r.Msg)
	} else {
		fmt.Fprintf(&buf, "%-5s[%s] %s", lvl, ts, r.Msg)
	}
	for i := 0; i < len(r.Ctx); i += 2 {
		k := fmt.Sprintf("%v", r.Ctx[i])
		v := r.Ctx[i+1]
		if f.color {
			fmt.Fprintf(&buf, " \x1b[%dm%s\x1b[0m=%s", 90, k, formatValue(v))
		} else {
			fmt.Fprintf(&buf, " %s=%s", k, formatValue(v))
		}
	}
	if len(r.Call) > 0 {
		buf.WriteString("\n")
		buf.WriteString(formatStack(r.Call))
	}
	buf.WriteString("\n")
	return buf.Bytes()
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case error:
		return strconv(x.Error())
	case string:
		return strconv(x)
	case fmt.Stringer:
		return strconv(x.String())
	default:
		return strconv(fmt.Sprintf("%+v", x))
	}
}

// strconv quotes a value if it contains a space, a tab, a double quote or
// '=', matching logfmt's rule that unquoted tokens never contain spaces.
func strconv(s string) string {
	if strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// logfmtFormat renders key=value pairs in sorted key order with no color.
// No handler constructor in this package selects it.
type logfmtFormat struct{}

func (logfmtFormat) Format(r *Record) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "t=%s lvl=%s msg=%s", r.Time.Format("2006-01-02T15:04:05-0700"), r.Lvl, strconv(r.Msg))

	keys := make([]string, 0, len(r.Ctx)/2)
	kv := make(map[string]interface{}, len(r.Ctx)/2)
	for i := 0; i < len(r.Ctx); i += 2 {
		k := fmt.Sprintf("%v", r.Ctx[i])
		keys = append(keys, k)
		kv[k] = r.Ctx[i+1]
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%s", k, formatValue(kv[k]))
	}
	buf.WriteString("\n")
	return buf.Bytes()
}
