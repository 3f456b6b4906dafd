package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/agencyctl/internal/envelope"
	"github.com/vovakirdan/agencyctl/internal/proto"
	"github.com/vovakirdan/agencyctl/internal/realtime"
)

func newChatCommand(st *state) *cobra.Command {
	var reconnect bool
	cmd := &cobra.Command{
		Use:   "chat <workflow-id> <session-id>",
		Short: "Talk to an agency over the realtime channel",
		Long:  "Lines read from stdin are sent as user messages; agent messages are printed as they arrive.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), st.app, args[0], args[1], reconnect)
		},
	}
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "reopen the channel with backoff after transport errors")
	return cmd
}

func runChat(ctx context.Context, a *App, workflowID, sessionID string, reconnect bool) error {
	if !a.auth.EnsureValid(ctx) {
		fmt.Fprintln(a.errOut, envelope.ReauthMessage)
		return ErrFailed
	}
	uid := a.creds.Get().UserID

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var failed atomic.Bool
	opts := realtime.Options{
		URL:       realtime.Address(a.cfg.RealtimeHost(), uid, workflowID, sessionID),
		Validator: a.auth,
		Creds:     a.creds,
		OnMessage: func(frame json.RawMessage) {
			printFrame(a, frame)
		},
		OnError: func(env envelope.Raw) {
			failed.Store(true)
			fmt.Fprintln(a.errOut, env.Message)
		},
		RevalidateInterval: a.cfg.RevalidateInterval,
		ValidateOnOpen:     true,
		Logger:             a.log,
	}

	var current atomic.Pointer[realtime.Channel]
	done := make(chan error, 1)
	if reconnect {
		r := realtime.NewReconnector(opts, realtime.WithOnOpen(current.Store))
		go func() { done <- r.Run(ctx) }()
	} else {
		ch := realtime.Open(ctx, opts)
		current.Store(ch)
		go func() {
			<-ch.Done()
			done <- ch.Err()
		}()
	}

	fmt.Fprintln(a.errOut, "Type messages and press Enter to send. Ctrl+C to exit.")
	go sendLines(ctx, a, &current, sessionID)

	err := <-done
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case failed.Load():
		return ErrFailed
	default:
		return err
	}
}

// sendLines forwards stdin lines to whichever channel is current.
func sendLines(ctx context.Context, a *App, current *atomic.Pointer[realtime.Channel], sessionID string) {
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		ch := current.Load()
		if ch == nil {
			continue
		}
		if err := ch.Send(ctx, sessionID, text); err != nil {
			a.log.Warn().Err(err).Msg("send message")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func printFrame(a *App, frame json.RawMessage) {
	in, err := proto.Decode(frame)
	if err != nil {
		return
	}
	switch proto.Kind(frame) {
	case proto.TypeAgentMessage:
		var data proto.AgentData
		if json.Unmarshal(in.Data, &data) == nil {
			fmt.Fprintf(a.out, "%s: %s\n", data.Sender, data.Message)
		}
	case proto.TypeAgentStatus:
		a.log.Debug().RawJSON("data", in.Data).Msg("agent status")
	case proto.TypeAgentResponse:
		a.log.Debug().RawJSON("data", in.Data).Msg("agent response")
	case proto.TypeError:
		fmt.Fprintln(a.errOut, in.Message)
	default:
		fmt.Fprintln(a.out, string(frame))
	}
}
