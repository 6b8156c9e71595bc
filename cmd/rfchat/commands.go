package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"rfchat/internal/sdp"
	"rfchat/internal/transport"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Advertise the chat service and wait for one peer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.close()

		return s.run(cmd.Context(), func(ctx context.Context) error {
			if s.recorder != nil {
				s.recorder.SetPeer(cfg.Service.Name)
			}
			return reported(s.mgr.Host(ctx, sdp.Descriptor{Name: cfg.Service.Name}))
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List chat services in range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.close()

		handles, err := s.mgr.Discover(cmd.Context())
		if err != nil {
			return reported(err)
		}
		printHandles(cmd.OutOrStdout(), handles)
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join [index|id]",
	Short: "Connect to a chat service and start chatting",
	Long: `Join discovers chat services and connects to one of them. The target is
an index from "rfchat scan" or a service id. Without a target it rejoins the
last service if it is still advertised, or the only service in range.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.close()

		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		return s.run(cmd.Context(), func(ctx context.Context) error {
			handles, err := s.mgr.Discover(ctx)
			if err != nil {
				return reported(err)
			}
			last, hasLast, err := s.log.LastService()
			if err != nil {
				mlog.Warn("last service unreadable", "err", err)
			}
			h, err := pickService(handles, target, last, hasLast)
			if err != nil {
				for i, h := range handles {
					s.console.Printf("  [%d] %s\n", i+1, h)
				}
				return err
			}

			if s.recorder != nil {
				s.recorder.SetPeer(h.Name)
			}
			if _, err := s.mgr.Join(ctx, h); err != nil {
				if hasLast && h.ID == last.ID && errors.Is(err, transport.ErrServiceUnavailable) {
					if ferr := s.log.ForgetLastService(); ferr != nil {
						mlog.Warn("forgetting last service", "err", ferr)
					}
				}
				return reported(err)
			}
			if err := s.log.SetLastService(h); err != nil {
				mlog.Warn("saving last service", "err", err)
			}
			return nil
		})
	},
}

var (
	historyLimit int
	historyClear bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print or clear the local transcript",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.close()

		if historyClear {
			if err := s.log.Clear(); err != nil {
				return err
			}
			if err := s.log.ForgetLastService(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Transcript and last service cleared.")
			return nil
		}
		entries, err := s.log.Entries(historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Transcript: (empty)")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintln(cmd.OutOrStdout(), formatEntry(e))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "lines", "n", 0, "show only the last n lines (0 = all)")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete the transcript")
}

var errNoService = errors.New("no chat service selected")

// reportedError marks an error the console already showed as an ERROR line.
// It still fails the command but is not printed again.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// errorLine is what main prints for a failed command, or "" when the
// failure was already reported.
func errorLine(err error) string {
	var re *reportedError
	if err == nil || errors.As(err, &re) {
		return ""
	}
	return "Error: " + err.Error()
}

// pickService resolves the join target among discovered handles: a 1-based
// index, a service id, or with no target the last joined service or the
// only one in range.
func pickService(handles []transport.ServiceHandle, target string, last transport.ServiceHandle, hasLast bool) (transport.ServiceHandle, error) {
	if len(handles) == 0 {
		return transport.ServiceHandle{}, fmt.Errorf("%w: none in range", errNoService)
	}
	if target != "" {
		if i, err := strconv.Atoi(target); err == nil {
			if i < 1 || i > len(handles) {
				return transport.ServiceHandle{}, fmt.Errorf("%w: index %d out of range 1..%d", errNoService, i, len(handles))
			}
			return handles[i-1], nil
		}
		for _, h := range handles {
			if h.ID == target {
				return h, nil
			}
		}
		return transport.ServiceHandle{}, fmt.Errorf("%w: %q not in range", errNoService, target)
	}
	if hasLast {
		for _, h := range handles {
			if h.ID == last.ID {
				return h, nil
			}
		}
	}
	if len(handles) == 1 {
		return handles[0], nil
	}
	return transport.ServiceHandle{}, fmt.Errorf("%w: %d services in range, pass an index or id", errNoService, len(handles))
}

func printHandles(w io.Writer, handles []transport.ServiceHandle) {
	for i, h := range handles {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, h)
	}
}
