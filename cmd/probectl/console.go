package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/dshills/probectl/internal/integration/debug"
)

// console prints engine events for the interactive attach session.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Navigate implements debug.NavigationSink.
func (c *console) Navigate(i debug.NavigationIntent) {
	c.printf("=> %s:%d\n", i.FilePath, i.Line)
}

func (c *console) handlers() debug.Handlers {
	return debug.Handlers{
		OnStateChanged: func(old, new debug.State) {
			c.printf("[%s -> %s]\n", old, new)
		},
		OnSnapshot: func(s debug.Snapshot) {
			changed := 0
			for _, v := range s.Variables {
				if v.HasChanged {
					changed++
				}
			}
			c.printf("snapshot pc=%s %d variables (%d changed)\n", s.PC, len(s.Variables), changed)
		},
		OnNotification: func(n debug.Notification) {
			if n.Err != nil {
				c.printf("%s: %s: %v\n", n.Level, n.Message, n.Err)
				return
			}
			c.printf("%s: %s\n", n.Level, n.Message)
		},
	}
}
