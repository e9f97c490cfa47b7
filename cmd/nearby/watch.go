package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rescp17/nearby/pkg/chat"
	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/session"
)

func newWatchCmd(load loader) *cobra.Command {
	var greeting string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join the session headless and print session activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := load()
			if err != nil {
				return err
			}
			defer closeLog(closer)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			greet := &greeter{text: greeting, log: logger}
			handlers := session.Handlers{
				OnPeerJoined: func(p peer.Identity) {
					fmt.Fprintf(out, "+ %s\n", p)
					greet.joined(p)
				},
				OnPeerLeft: func(p peer.Identity) {
					fmt.Fprintf(out, "- %s\n", p)
				},
				OnData: func(data []byte, from peer.Identity) {
					fmt.Fprintf(out, "%s: %s\n", from, chat.DescribePayload(data))
				},
			}

			m, err := session.New(cfg.Service, handlers,
				session.WithConfig(cfg.Session),
				session.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			greet.attach(m)
			logger.Info("Watching session", slog.String("local", m.Local().String()), slog.String("service", m.Descriptor().String()))
			fmt.Fprintf(out, "watching %s as %s, press ctrl+c to stop\n", m.Descriptor(), m.Local())

			<-ctx.Done()
			return m.Shutdown()
		},
	}

	cmd.Flags().StringVar(&greeting, "greet", "", "Message sent reliably to every peer that joins")
	return cmd
}

type sender interface {
	Send(data []byte, targets []peer.Identity, reliable bool) error
}

// greeter sends text reliably to every peer that joins. Peers that join
// before the manager is attached are greeted on attach.
type greeter struct {
	text string
	log  *slog.Logger

	mu     sync.Mutex
	sender sender
	early  []peer.Identity
}

func (g *greeter) joined(p peer.Identity) {
	if g.text == "" {
		return
	}
	g.mu.Lock()
	s := g.sender
	if s == nil {
		g.early = append(g.early, p)
	}
	g.mu.Unlock()

	if s != nil {
		g.greet(s, p)
	}
}

func (g *greeter) attach(s sender) {
	g.mu.Lock()
	g.sender = s
	early := g.early
	g.early = nil
	g.mu.Unlock()

	for _, p := range early {
		g.greet(s, p)
	}
}

// greet runs inside a session handler, which may call back into the manager.
func (g *greeter) greet(s sender, p peer.Identity) {
	if err := s.Send([]byte(g.text), []peer.Identity{p}, true); err != nil {
		g.log.Warn("Failed to greet peer", "peer", p.String(), "error", err)
	}
}
