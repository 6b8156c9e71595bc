package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"rfchat/internal/sdp"
	"rfchat/internal/transport"
)

type fakeChat struct {
	sent []string
	err  error
}

func (f *fakeChat) Send(text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func run(t *testing.T, input string, chat Sender, setup func(c *Console)) string {
	t.Helper()
	var out bytes.Buffer
	c := New(strings.NewReader(input), &out)
	c.Commands().RegisterBuiltins()
	if setup != nil {
		setup(c)
	}
	if err := c.Run(context.Background(), chat); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestEventLines(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	c.OnMessage("hi there")
	c.OnStatus("client connected")
	c.OnError(fmt.Errorf("join: %w", sdp.ErrMissingAttribute))
	c.OnClosed(transport.RemoteDisconnected)

	want := "Received: hi there\n" +
		"Status: client connected\n" +
		"ERROR: 0x80040004 - join: service name attribute not advertised\n"
	if out.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", out.String(), want)
	}
}

func TestRunSendsLines(t *testing.T) {
	chat := &fakeChat{}
	var recorded []string
	out := run(t, "hello\n\n   \n  spaced  \n", chat, func(c *Console) {
		c.OnSent(func(text string) { recorded = append(recorded, text) })
	})

	if len(chat.sent) != 2 || chat.sent[0] != "hello" || chat.sent[1] != "spaced" {
		t.Errorf("sent %q", chat.sent)
	}
	if len(recorded) != 2 {
		t.Errorf("OnSent saw %q", recorded)
	}
	if out != "Sent: hello\nSent: spaced\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunQuitStopsReading(t *testing.T) {
	chat := &fakeChat{}
	out := run(t, "one\n/quit\ntwo\n", chat, nil)
	if len(chat.sent) != 1 {
		t.Errorf("sent %q after /quit", chat.sent)
	}
	if !strings.Contains(out, "Goodbye.") {
		t.Errorf("output = %q", out)
	}
}

func TestRunHelpAndUnknown(t *testing.T) {
	out := run(t, "/help\n/bogus\n", &fakeChat{}, func(c *Console) {
		c.Commands().Register("/history", Command{
			Usage:   "/history [n]",
			Help:    "show the transcript",
			Handler: func(CommandContext) bool { return false },
		})
	})
	for _, want := range []string{"Commands:", "/help", "/quit", "/history [n]", "show the transcript", "Unknown command: /bogus"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Index(out, "/help") > strings.Index(out, "/history") {
		t.Error("help not in registration order")
	}
}

func TestCommandArgs(t *testing.T) {
	var got []string
	run(t, "/echo a  b\n", &fakeChat{}, func(c *Console) {
		c.Commands().Register("/echo", Command{
			Help: "echo",
			Handler: func(ctx CommandContext) bool {
				got = ctx.Args
				return false
			},
		})
	})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("args = %q", got)
	}
}

func TestRunSendTooLarge(t *testing.T) {
	chat := &fakeChat{err: fmt.Errorf("%w: 10 > 4", transport.ErrMessageTooLarge)}
	out := run(t, "0123456789\n", chat, nil)
	if !strings.Contains(out, "ERROR: 0x80040007") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "Sent:") {
		t.Error("failed message shown as sent")
	}
}

func TestRunNotConnectedIsQuiet(t *testing.T) {
	out := run(t, "hello\n", &fakeChat{err: transport.ErrNotConnected}, nil)
	if out != "" {
		t.Errorf("output = %q", out)
	}
}

func TestRunStopsOnContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := New(pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, &fakeChat{}) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestRunReadError(t *testing.T) {
	c := New(failingReader{}, io.Discard)
	if err := c.Run(context.Background(), &fakeChat{}); err == nil {
		t.Error("expected read error")
	}
}

func TestRegisterPanics(t *testing.T) {
	r := NewCommandRegistry()
	func() {
		defer func() {
			if recover() == nil {
				t.Error("nil handler did not panic")
			}
		}()
		r.Register("/x", Command{})
	}()

	r.Freeze()
	defer func() {
		if recover() == nil {
			t.Error("register after Freeze did not panic")
		}
	}()
	r.Register("/y", Command{Handler: func(CommandContext) bool { return false }})
}

func TestRegisterReplaces(t *testing.T) {
	r := NewCommandRegistry()
	r.Register("/a", Command{Help: "first", Handler: func(CommandContext) bool { return false }})
	r.Register("/a", Command{Help: "second", Handler: func(CommandContext) bool { return false }})
	help := r.HelpText()
	if strings.Contains(help, "first") || strings.Count(help, "/a") != 1 {
		t.Errorf("help = %q", help)
	}
}

func TestTerminalConsole(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	c := NewTerminal(pr, &out, "> ")
	c.Commands().RegisterBuiltins()
	c.Resize(120, 40)

	chat := &fakeChat{}
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), chat) }()

	if _, err := pw.Write([]byte("hi\r/quit\r")); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("terminal console did not quit")
	}
	if len(chat.sent) != 1 || chat.sent[0] != "hi" {
		t.Errorf("sent %q", chat.sent)
	}
}
