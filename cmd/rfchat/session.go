package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"rfchat/internal/config"
	"rfchat/internal/console"
	"rfchat/internal/history"
	"rfchat/internal/identity"
	"rfchat/internal/logging"
	"rfchat/internal/simradio"
	"rfchat/internal/store"
	boltstore "rfchat/internal/store/bolt"
	"rfchat/internal/transport"
)

var mlog = logging.For("main")

// session wires one chat process: radio, transport, console and transcript.
type session struct {
	radio    *simradio.Radio
	mgr      *transport.Manager
	console  *console.Console
	store    *boltstore.Store
	log      *history.Log      // nil when history is disabled
	recorder *history.Recorder // nil when history is disabled

	restoreTerm func()
}

// openSession builds a session from cfg. Interactive sessions get line
// editing when stdin is a terminal.
func openSession(interactive bool) (*session, error) {
	id, err := identity.Load(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	protection, err := simradio.ParseProtection(cfg.Radio.Protection)
	if err != nil {
		return nil, err
	}
	radio, err := simradio.New(config.ExpandHome(cfg.Radio.Dir),
		simradio.Device{Address: id.Address, Name: cfg.Device.Name}, protection)
	if err != nil {
		return nil, fmt.Errorf("radio: %w", err)
	}
	mlog.Info("device ready", "device", id.Short(), "name", cfg.Device.Name, "protection", protection)

	s := &session{radio: radio, restoreTerm: func() {}}
	if err := s.openHistory(); err != nil {
		return nil, err
	}

	s.console = console.New(os.Stdin, os.Stdout)
	if fd := int(os.Stdin.Fd()); interactive && term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("terminal: %w", err)
		}
		s.restoreTerm = func() { _ = term.Restore(fd, old) }
		s.console = console.NewTerminal(os.Stdin, os.Stdout, fmt.Sprintf("[%s]> ", cfg.Device.Name))
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			s.console.Resize(w, h)
		}
	}

	var observer transport.Observer = s.console
	if s.recorder != nil {
		observer = transport.Tee(s.console, s.recorder)
		s.console.OnSent(s.recorder.Sent)
	}

	opts := []transport.Option{transport.WithMaxMessageSize(cfg.Chat.MaxMessageSize)}
	if cfg.Chat.WriteTimeout.Duration > 0 {
		opts = append(opts, transport.WithWriteTimeout(cfg.Chat.WriteTimeout.Duration))
	}
	s.mgr = transport.NewManager(radio, observer, opts...)
	s.registerCommands()
	return s, nil
}

func (s *session) openHistory() error {
	dbPath := filepath.Join(cfg.DataDir(), "rfchat.db")
	st, err := boltstore.Open(dbPath)
	if errors.Is(err, store.ErrLocked) {
		return fmt.Errorf("store: %w (is another rfchat using %s?)", err, cfg.DataDir())
	}
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	s.store = st
	s.log = history.New(st, cfg.Chat.HistoryLimit)
	if cfg.Chat.History {
		s.recorder = history.NewRecorder(s.log)
	}
	return nil
}

func (s *session) registerCommands() {
	reg := s.console.Commands()
	reg.RegisterBuiltins()

	reg.Register("/disconnect", console.Command{
		Help: "close the connection and stop advertising",
		Handler: func(ctx console.CommandContext) bool {
			s.mgr.Disconnect()
			return false
		},
	})

	reg.Register("/status", console.Command{
		Help: "show the connection state",
		Handler: func(ctx console.CommandContext) bool {
			conn := "none"
			if ep := s.mgr.Endpoint(); ep != nil {
				conn = fmt.Sprintf("%s (%s)", ep.State(), ep.Role())
			}
			ctx.Console.Printf("Device %s (%s), host %s, connection %s\n",
				cfg.Device.Name, s.radio.Protection(), s.mgr.HostState(), conn)
			return false
		},
	})

	reg.Register("/history", console.Command{
		Usage: "/history [n]",
		Help:  "show the last n transcript lines (default 20)",
		Handler: func(ctx console.CommandContext) bool {
			n := 20
			if len(ctx.Args) > 0 {
				v, err := strconv.Atoi(ctx.Args[0])
				if err != nil || v <= 0 {
					ctx.Console.Printf("Usage: /history [n]\n")
					return false
				}
				n = v
			}
			entries, err := s.log.Entries(n)
			if err != nil {
				ctx.Console.Printf("history: %v\n", err)
				return false
			}
			for _, e := range entries {
				ctx.Console.Printf("%s\n", formatEntry(e))
			}
			return false
		},
	})
}

// run starts the session role, then serves the console until /quit, EOF or
// a termination signal. The connection is torn down on the way out.
func (s *session) run(parent context.Context, start func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := start(ctx); err != nil {
		return err
	}
	s.console.Printf("Type /help for commands.\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.console.Run(gctx, s.mgr)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.mgr.Disconnect()
		return nil
	})
	return g.Wait()
}

func (s *session) close() {
	s.restoreTerm()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			mlog.Warn("closing store", "err", err)
		}
	}
}

func formatEntry(e history.Entry) string {
	text := e.Text
	if e.Kind == history.KindError {
		text = fmt.Sprintf("0x%08X - %s", e.Code, e.Text)
	}
	line := fmt.Sprintf("%s  %-8s %s", e.Time.Local().Format(time.DateTime), e.Kind, text)
	if e.Peer != "" {
		line += "  [" + e.Peer + "]"
	}
	return line
}
