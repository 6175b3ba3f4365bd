package consent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Terminal asks on a text stream and accepts y or yes. One goroutine reads
// In for the lifetime of the Terminal, so an answer typed after a cancelled
// prompt goes to the next prompt. Use it through a pointer.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan string
	err   error
}

func (t *Terminal) readLines() {
	t.lines = make(chan string)
	go func() {
		defer close(t.lines)
		r := bufio.NewReader(t.In)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				t.lines <- line
			}
			if err != nil {
				t.err = err
				return
			}
		}
	}()
}

func (t *Terminal) Confirm(ctx context.Context, title, message string) (bool, error) {
	t.once.Do(t.readLines)
	fmt.Fprintf(t.Out, "%s\n%s [y/N]: ", title, message)

	select {
	case <-ctx.Done():
		fmt.Fprintln(t.Out)
		return false, ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			if t.err == io.EOF {
				return false, nil
			}
			return false, t.err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
