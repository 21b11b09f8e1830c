package build

import (
	"fmt"
	"io"
	"sync"
)

// Console is the build's own log stream.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w. A nil writer discards output.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = io.Discard
	}
	return &Console{w: w}
}

// Println writes one line to the console. Write errors are ignored: a
// broken console must not interrupt the caller.
func (c *Console) Println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, a...)
}

// Printf writes one formatted line; a trailing newline is added.
func (c *Console) Printf(format string, a ...any) {
	c.Println(fmt.Sprintf(format, a...))
}
