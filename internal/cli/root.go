// Package cli implements the agencyctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/agencyctl/internal/config"
	"github.com/vovakirdan/agencyctl/internal/envelope"
	"github.com/vovakirdan/agencyctl/internal/log"
)

// ErrFailed is returned after a failed envelope has already been reported.
var ErrFailed = errors.New("request failed")

type rootFlags struct {
	configPath string
	profile    string
	apiURL     string
	logLevel   string
}

type state struct {
	app *App
}

// Execute runs one invocation with args and releases what it opened.
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	root, st := newRoot(in, out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if st.app != nil {
		if cerr := st.app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// NewRootCommand builds the command tree. Streams are injected for tests.
// The caller owns closing whatever the pre-run hook opened; prefer Execute.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	root, _ := newRoot(in, out, errOut)
	return root
}

func newRoot(in io.Reader, out, errOut io.Writer) (*cobra.Command, *state) {
	flags := &rootFlags{}
	st := &state{}

	root := &cobra.Command{
		Use:           "agencyctl",
		Short:         "Command line client for the agency workflow backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := log.NewWithWriter(errOut, flags.logLevel)
			cfg, path, err := config.Load(bootLog, flags.configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{Profile: flags.profile, APIURL: flags.apiURL, LogLevel: flags.logLevel})

			logger := log.NewWithWriter(errOut, cfg.LogLevel)
			logger.Debug().Str("config", path).Str("profile", cfg.Profile).Msg("configuration loaded")

			app, err := NewApp(cmd.Context(), cfg, logger, in, out, errOut)
			if err != nil {
				return err
			}
			st.app = app
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config file")
	pf.StringVar(&flags.profile, "profile", "", "credential profile")
	pf.StringVar(&flags.apiURL, "api-url", "", "backend REST base URL")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error, off)")

	root.AddCommand(
		newRegisterCommand(st),
		newLoginCommand(st),
		newLogoutCommand(st),
		newWhoamiCommand(st),
		newVariablesCommand(st),
		newSkillsCommand(st),
		newAgentsCommand(st),
		newAgenciesCommand(st),
		newSessionsCommand(st),
		newMessagesCommand(st),
		newChatCommand(st),
		newVersionCommand(st),
	)
	return root, st
}

// emit prints a successful envelope as JSON, or its message on failure.
func emit[T any](a *App, env envelope.Envelope[T]) error {
	if !env.Status {
		fmt.Fprintln(a.errOut, env.Message)
		return ErrFailed
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}
