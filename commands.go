package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"clipflow/internal/auth"
	"clipflow/internal/config"
	"clipflow/internal/deps"
	"clipflow/internal/migrations"
	"clipflow/internal/session"
	"clipflow/internal/upload"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireDB(); err != nil {
				return err
			}
			if err := migrations.Up(cmd.Context(), a.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newReclaimCommand() *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Error out sessions stuck in processing so they can be retried",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireDB(); err != nil {
				return err
			}
			if staleAfter <= 0 {
				staleAfter = a.cfg.ProcessingStaleAfter
			}
			// Reclaim only touches the session store.
			orchestrator := upload.NewOrchestrator(a.repo, nil, nil, nil, a.logger)
			n, err := orchestrator.Reclaim(cmd.Context(), staleAfter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d session(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "processing age to reclaim (default PROCESSING_STALE_AFTER)")
	return cmd
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect upload sessions",
	}

	var owner, state string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List upload sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := session.Filter{OwnerID: owner, State: session.State(state), Limit: limit}
			if state != "" && !filter.State.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireDB(); err != nil {
				return err
			}

			sessions, err := a.repo.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSessions(sessions))
			return nil
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "only sessions of this owner")
	list.Flags().StringVar(&state, "state", "", "only sessions in this state")
	list.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	cmd.AddCommand(list)
	return cmd
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the external binaries the transcoder needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			statuses := deps.CheckBinaries(deps.TranscodeRequirements(cfg.FFmpegPath, cfg.FFprobePath))
			fmt.Fprintln(cmd.OutOrStdout(), renderDependencies(statuses))
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required binar%s missing", len(missing), plural(len(missing), "y", "ies"))
			}
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var user string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a caller token for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := config.Load().JWTSecret
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}
			token, err := auth.GenerateToken(user, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "caller id to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token validity")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func renderSessions(sessions []*session.Session) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.OwnerID,
			string(s.State),
			s.Mode,
			strconv.FormatInt(s.ByteSize, 10),
			strconv.FormatInt(s.ViewCount, 10),
			s.UpdatedAt.UTC().Format(time.RFC3339),
			truncate(s.ErrorDetail, 48),
		})
	}
	return renderTable(
		[]string{"ID", "Owner", "State", "Mode", "Bytes", "Views", "Updated", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func renderDependencies(statuses []deps.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		state := "ok"
		detail := s.Path
		if !s.Available {
			state = "missing"
			detail = s.Detail
		}
		rows = append(rows, []string{s.Name, s.Command, state, detail})
	}
	return renderTable([]string{"Name", "Command", "Status", "Detail"}, rows, nil)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
