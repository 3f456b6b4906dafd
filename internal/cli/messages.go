package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/agencyctl/internal/api"
)

func newMessagesCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Read and post session messages",
	}

	var (
		after    string
		follow   bool
		interval time.Duration
	)
	list := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List messages, optionally polling for new ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !follow {
				return emit(st.app, st.app.api.ListMessages(cmd.Context(), args[0], after))
			}
			return followMessages(cmd.Context(), st.app, args[0], after, interval)
		},
	}
	list.Flags().StringVar(&after, "after", "", "only messages newer than this message id")
	list.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new messages")
	list.Flags().DurationVar(&interval, "interval", 2*time.Second, "polling interval with --follow")

	post := &cobra.Command{
		Use:   "post <session-id> <content>",
		Short: "Post a message to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(st.app, st.app.api.PostMessage(cmd.Context(), api.Message{SessionID: args[0], Content: args[1]}))
		},
	}

	cmd.AddCommand(list, post)
	return cmd
}

// followMessages prints messages as they appear until ctx ends or a poll fails.
func followMessages(ctx context.Context, a *App, sessionID, after string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		env := a.api.ListMessages(ctx, sessionID, after)
		if !env.Status {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(a.errOut, env.Message)
			return ErrFailed
		}
		for _, m := range env.Data {
			fmt.Fprintf(a.out, "[%s] %s: %s\n", m.Timestamp, m.Role, m.Content)
			after = m.ID
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
