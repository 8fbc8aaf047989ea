// Package prompter asks the end user for consent on a terminal.
//
// It backs the synchronous confirm path of the caller: where no broker UI
// is reachable, the caller blocks on a yes/no question instead of opening
// a prompt on the broker.
package prompter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// CLI asks yes/no questions on a line-oriented terminal.
type CLI struct {
	in     io.Reader
	out    io.Writer
	origin string
}

// NewCLI creates a prompter that asks on behalf of origin.
func NewCLI(in io.Reader, out io.Writer, origin string) *CLI {
	return &CLI{in: in, out: out, origin: origin}
}

// IsInteractive reports whether input comes from a terminal.
func (p *CLI) IsInteractive() bool {
	f, ok := p.in.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// Confirm asks whether the origin may reach hosts. Anything but an explicit
// yes is a refusal.
func (p *CLI) Confirm(ctx context.Context, hosts []string) (bool, error) {
	_, _ = fmt.Fprintf(p.out, "%s wants to send requests to:\n", p.origin)
	for _, host := range hosts {
		_, _ = fmt.Fprintf(p.out, "  - %s\n", host)
	}
	_, _ = fmt.Fprint(p.out, "Allow? [y/N]: ")

	type answer struct {
		ok  bool
		err error
	}
	done := make(chan answer, 1)

	go func() {
		scanner := bufio.NewScanner(p.in)
		if scanner.Scan() {
			text := strings.ToLower(strings.TrimSpace(scanner.Text()))
			done <- answer{ok: text == "y" || text == "yes"}
			return
		}
		if err := scanner.Err(); err != nil {
			done <- answer{err: err}
			return
		}
		done <- answer{err: io.EOF}
	}()

	select {
	case a := <-done:
		return a.ok, a.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
