package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/agencyctl/internal/api"
	"github.com/vovakirdan/agencyctl/internal/envelope"
)

// resource describes one CRUD collection of the backend.
type resource[T any] struct {
	name   string
	list   func(*api.API, context.Context) envelope.Envelope[[]T]
	get    func(*api.API, context.Context, string) envelope.Envelope[T]
	save   func(*api.API, context.Context, T) envelope.Envelope[T]
	remove func(*api.API, context.Context, string) envelope.Envelope[any]
}

func (r resource[T]) command(st *state, extra ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   r.name,
		Short: "Manage " + r.name,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List " + r.name,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(st.app, r.list(st.app.api, cmd.Context()))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(st.app, r.get(st.app.api, cmd.Context(), args[0]))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "save <file|->",
		Short: "Create or update an item from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var item T
			if err := readJSON(st.app, args[0], &item); err != nil {
				return err
			}
			return emit(st.app, r.save(st.app.api, cmd.Context(), item))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(st.app, r.remove(st.app.api, cmd.Context(), args[0]))
		},
	})
	cmd.AddCommand(extra...)
	return cmd
}

func readJSON(a *App, path string, dst any) error {
	var r io.Reader = a.in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func newSkillsCommand(st *state) *cobra.Command {
	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a skill for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(st.app, st.app.api.ApproveSkill(cmd.Context(), args[0]))
		},
	}
	var prompt string
	execute := &cobra.Command{
		Use:   "execute <id>",
		Short: "Run an approved skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(st.app, st.app.api.ExecuteSkill(cmd.Context(), api.SkillExecution{ID: args[0], UserPrompt: prompt}))
		},
	}
	execute.Flags().StringVar(&prompt, "prompt", "", "prompt passed to the skill")

	return resource[api.Skill]{
		name:   "skills",
		list:   (*api.API).ListSkills,
		get:    (*api.API).GetSkill,
		save:   (*api.API).SaveSkill,
		remove: (*api.API).DeleteSkill,
	}.command(st, approve, execute)
}

func newAgentsCommand(st *state) *cobra.Command {
	return resource[api.Agent]{
		name:   "agents",
		list:   (*api.API).ListAgents,
		get:    (*api.API).GetAgent,
		save:   (*api.API).SaveAgent,
		remove: (*api.API).DeleteAgent,
	}.command(st)
}

func newAgenciesCommand(st *state) *cobra.Command {
	return resource[api.Agency]{
		name:   "agencies",
		list:   (*api.API).ListAgencies,
		get:    (*api.API).GetAgency,
		save:   (*api.API).SaveAgency,
		remove: (*api.API).DeleteAgency,
	}.command(st)
}

func newVariablesCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variables",
		Short: "Manage secret variables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List variable names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(st.app, st.app.api.ListVariables(cmd.Context()))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME=VALUE...",
		Short: "Store variables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(args))
			for _, arg := range args {
				name, value, ok := strings.Cut(arg, "=")
				if !ok || name == "" {
					return fmt.Errorf("expected NAME=VALUE, got %q", arg)
				}
				values[name] = value
			}
			return emit(st.app, st.app.api.UpdateVariables(cmd.Context(), values))
		},
	})
	return cmd
}

func newSessionsCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(st.app, st.app.api.ListSessions(cmd.Context()))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create <agency-id>",
		Short: "Start a session with an agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(st.app, st.app.api.CreateSession(cmd.Context(), args[0]))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(st.app, st.app.api.DeleteSession(cmd.Context(), args[0]))
		},
	})
	return cmd
}

func newVersionCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the backend version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(st.app, st.app.api.Version(cmd.Context()))
		},
	}
}
