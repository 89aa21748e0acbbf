package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hostbridge/agentsdk/internal/frame"
	"github.com/hostbridge/agentsdk/internal/version"
)

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <json>",
		Short: "Send a fire-and-forget message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := parseMessage(args[0])
			if err != nil {
				return err
			}

			ag, stop, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			id, err := ag.Send(msg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newRequestCmd(a *app) *cobra.Command {
	var (
		expect  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request <json>",
		Short: "Send a message and print the correlated reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := parseMessage(args[0])
			if err != nil {
				return err
			}

			ag, stop, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			resp, err := ag.Router().SendAndWaitForResponse(cmd.Context(), msg, expect, timeout)
			if err != nil {
				return err
			}
			return printFrame(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVarP(&expect, "expect", "e", "", `expected reply type(s), "A|B" for alternatives`)
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "reply timeout (0 waits until the connection closes)")
	cmd.MarkFlagRequired("expect")
	return cmd
}

func newListenCmd(a *app) *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print inbound frames until interrupted",
		Long: `Print inbound frames until interrupted or the host closes the connection.

With --type, subscribes to each type. Without it, prints every frame that no
request, route or subscription claimed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ag, stop, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer stop()

			var streams []<-chan frame.Frame
			if len(types) == 0 {
				ch, unlisten := ag.Router().Messages().Listen()
				defer unlisten()
				streams = append(streams, ch)
			}
			for _, t := range types {
				ch, unlisten := ag.Subscribe(t).Listen()
				defer unlisten()
				streams = append(streams, ch)
			}

			out := &lockedWriter{w: cmd.OutOrStdout()}
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				select {
				case <-gctx.Done():
				case <-ag.Done():
					a.logger.Info("host closed the connection")
				}
				// Ends the listener loops below.
				cancel()
				return nil
			})

			for _, ch := range streams {
				g.Go(func() error {
					for {
						select {
						case <-gctx.Done():
							return nil
						case f, ok := <-ch:
							if !ok {
								return nil
							}
							if err := out.printFrame(f); err != nil {
								return err
							}
						}
					}
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringSliceVar(&types, "type", nil, "message type to subscribe to (repeatable)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(version.Get())
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printFrame(w io.Writer, f frame.Frame) error {
	_, err := fmt.Fprintln(w, string(f.Raw))
	return err
}

// lockedWriter serializes output from concurrent listeners.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printFrame(f frame.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return printFrame(l.w, f)
}
