package chat

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Prompts shown while waiting for input.
const (
	PromptChat       = "Type message: "
	PromptStandalone = "Type message (standalone): "
)

// console serializes writes from the foreground loop and the Listener so
// lines never interleave mid-write.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	prompts bool
}

func newConsole(out io.Writer, prompts bool) *console {
	return &console{out: out, prompts: prompts}
}

func (c *console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Prompt prints p when prompts are enabled.
func (c *console) Prompt(p string) {
	if !c.prompts {
		return
	}
	c.Printf("%s", p)
}

// Write lets the console stand in as an io.Writer (history display, retry
// narration).
func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// readLines scans r line by line onto the returned channel, which is closed
// at end of input. The goroutine is abandoned if nobody drains the channel.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}
