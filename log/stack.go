package log

import (
	"bytes"
	"fmt"

	"github.com/go-stack/stack"
)

// captureStack grabs the caller's call stack for a Crit record, so an
// operator sees exactly which invariant check fired without having to
// attach a debugger after the fact.
func captureStack() stack.CallStack {
	return stack.Trace().TrimRuntime()
}

func formatStack(cs stack.CallStack) string {
	var buf bytes.Buffer
	for _, c := range cs {
		fmt.Fprintf(&buf, "    %+v\n", c)
	}
	return buf.String()
}
