package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/agencyctl/internal/identity/local"
)

type credentialFlags struct {
	user     string
	password string
}

func (f *credentialFlags) bind(cmd *cobra.Command, userFlag string) {
	cmd.Flags().StringVar(&f.user, userFlag, "", "account "+userFlag)
	cmd.Flags().StringVar(&f.password, "password", "", "account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired(userFlag)
}

// resolvePassword reads the password from the first stdin line when no flag was given.
func (f *credentialFlags) resolvePassword(a *App) (string, error) {
	if f.password != "" {
		return f.password, nil
	}
	fmt.Fprint(a.errOut, "Password: ")
	line, err := bufio.NewReader(a.in).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("empty password")
	}
	return line, nil
}

func newRegisterCommand(st *state) *cobra.Command {
	creds := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a local account (local identity mode only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := st.app
			if a.accounts == nil {
				return errors.New("register is only available with the local identity provider")
			}
			password, err := creds.resolvePassword(a)
			if err != nil {
				return err
			}
			acc, err := a.accounts.Register(cmd.Context(), creds.user, password)
			if err != nil {
				return err
			}
			if err := local.SaveAccounts(a.cfg.Identity.AccountsFile, a.accounts.Accounts()); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "registered %s (%s)\n", acc.Email, acc.UID)
			return nil
		},
	}
	creds.bind(cmd, "email")
	return cmd
}

func newLoginCommand(st *state) *cobra.Command {
	creds := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store a credential for the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := st.app
			password, err := creds.resolvePassword(a)
			if err != nil {
				return err
			}
			if _, err := a.provider.SignIn(cmd.Context(), creds.user, password); err != nil {
				if errors.Is(err, local.ErrInvalidCredentials) {
					return errors.New("invalid email or password")
				}
				return err
			}
			if err := a.auth.SignIn(cmd.Context()); err != nil {
				return err
			}
			c := a.creds.Get()
			fmt.Fprintf(a.out, "signed in as %s, token valid until %s\n", c.Email, c.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	creds.bind(cmd, "email")
	return cmd
}

func newLogoutCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the profile's credential",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a := st.app
			a.provider.SignOut()
			a.auth.SignOut()
			fmt.Fprintln(a.out, "signed out")
			return nil
		},
	}
}

type whoami struct {
	Profile   string    `json:"profile"`
	Email     string    `json:"email,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Valid     bool      `json:"valid"`
}

func newWhoamiCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored credential, refreshing it when stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := st.app
			valid := a.auth.EnsureValid(cmd.Context())
			c := a.creds.Get()
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(whoami{
				Profile:   a.cfg.Profile,
				Email:     c.Email,
				UserID:    c.UserID,
				ExpiresAt: c.ExpiresAt,
				Valid:     valid,
			}); err != nil {
				return err
			}
			if !valid {
				return ErrFailed
			}
			return nil
		},
	}
}
