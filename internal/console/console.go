// Package console is the interactive front end of a chat session: it prints
// transport events and turns typed lines into messages or slash commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"rfchat/internal/logging"
	"rfchat/internal/transport"
)

var clog = logging.For("console")

// Sender delivers a typed line to the peer. *transport.Manager satisfies it.
type Sender interface {
	Send(text string) error
}

type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	s *bufio.Scanner
}

func (r scannerReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

type styles struct {
	sent     lipgloss.Style
	received lipgloss.Style
	status   lipgloss.Style
	err      lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		sent:     r.NewStyle().Foreground(lipgloss.Color("12")),
		received: r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		status:   r.NewStyle().Foreground(lipgloss.Color("241")),
		err:      r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

// Console implements transport.Observer by printing every event. Status
// notices and errors are styled differently; error lines carry the code
// from transport.ErrorCode.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	lines  lineReader
	term   *term.Terminal // nil for line-buffered input
	styles styles

	commands *CommandRegistry
	onSent   func(text string)
}

// New returns a console reading newline-separated input from in. Styling
// follows what out supports, so plain writers get plain text.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		out:      out,
		lines:    scannerReader{s: bufio.NewScanner(in)},
		styles:   newStyles(lipgloss.NewRenderer(out)),
		commands: NewCommandRegistry(),
	}
}

// NewTerminal returns a console with line editing over a terminal that the
// caller has already put in raw mode. Output is interleaved above the
// prompt.
func NewTerminal(in io.Reader, out io.Writer, prompt string) *Console {
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, prompt)
	return &Console{
		out:      t,
		lines:    t,
		term:     t,
		styles:   newStyles(lipgloss.NewRenderer(out)),
		commands: NewCommandRegistry(),
	}
}

// Commands exposes the registry so callers can add commands before Run.
func (c *Console) Commands() *CommandRegistry {
	return c.commands
}

// OnSent registers fn to be called after each message is delivered.
func (c *Console) OnSent(fn func(text string)) {
	c.onSent = fn
}

// Resize tells the line editor the terminal size. No-op without a terminal.
func (c *Console) Resize(width, height int) {
	if c.term != nil {
		_ = c.term.SetSize(width, height)
	}
}

// Printf writes formatted output, serialized with event output.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) line(style lipgloss.Style, label, text string) {
	c.Printf("%s %s\n", style.Render(label), text)
}

func (c *Console) OnMessage(text string) {
	c.line(c.styles.received, "Received:", text)
}

func (c *Console) OnStatus(text string) {
	c.line(c.styles.status, "Status:", text)
}

func (c *Console) OnError(err error) {
	c.line(c.styles.err, "ERROR:", fmt.Sprintf("0x%08X - %s", transport.ErrorCode(err), err))
}

// OnClosed prints nothing; the transport reports closures as status lines.
func (c *Console) OnClosed(transport.CloseReason) {}

// Run reads lines until EOF, /quit or ctx is done. Lines starting with a
// slash are commands; anything else non-blank is sent through chat.
func (c *Console) Run(ctx context.Context, chat Sender) error {
	c.commands.Freeze()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		for {
			line, err := c.lines.ReadLine()
			if err != nil {
				errc <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line := <-lines:
			if c.handle(chat, line) {
				return nil
			}
		}
	}
}

func (c *Console) handle(chat Sender, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "/") {
		return c.commands.Dispatch(c, line)
	}
	if err := chat.Send(line); err != nil {
		// Transport faults and missing connections are already reported
		// through the observer.
		if errors.Is(err, transport.ErrMessageTooLarge) {
			c.OnError(err)
		}
		clog.Debug("send failed", "err", err)
		return false
	}
	c.line(c.styles.sent, "Sent:", line)
	if c.onSent != nil {
		c.onSent(line)
	}
	return false
}
