package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rescp17/nearby/pkg/chat"
	"github.com/rescp17/nearby/pkg/session"
	"github.com/rescp17/nearby/pkg/ui"
)

func newChatCmd(load loader) *cobra.Command {
	var unreliable bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the session and chat with nearby peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := load()
			if err != nil {
				return err
			}
			defer closeLog(closer)

			reliable := !unreliable
			start := chat.ManagerStarter(cfg.Service,
				session.WithConfig(cfg.Session),
				session.WithLogger(logger),
			)
			app := chat.NewApp(start, reliable, logger)

			p := tea.NewProgram(ui.InitialModel(app, reliable), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			if n := app.Dropped(); n > 0 {
				logger.Warn("UI fell behind, session events were dropped", "count", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&unreliable, "unreliable", false, "Start in unreliable (unordered, no retransmit) mode")
	return cmd
}
