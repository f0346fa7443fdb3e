package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/pelican/internal/config"
	"github.com/flemzord/pelican/internal/gateway"
	"github.com/flemzord/pelican/internal/keychain"
	"github.com/flemzord/pelican/internal/logging"
	"github.com/spf13/cobra"
)

var tokenPattern = regexp.MustCompile(`^\d{5,}:[A-Za-z0-9_-]{30,}$`)

// answers collects the init wizard's input.
type answers struct {
	Token      string
	UseKeyring bool
	Persist    bool
	DataDir    string
	Bind       string
	AdminToken string
	LogFormat  string
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}

			a := answers{UseKeyring: true, Persist: true, DataDir: defaultDataDir(), LogFormat: "text"}
			if err := runWizard(&a); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}

			if a.UseKeyring {
				if err := keychain.SetToken(a.Token); err != nil {
					return err
				}
			}
			if err := writeConfig(out, buildConfig(a)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", configName, "Where to write the configuration")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func runWizard(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot token").
				Description("From @BotFather").
				EchoMode(huh.EchoModePassword).
				Value(&a.Token).
				Validate(validateToken),
			huh.NewConfirm().
				Title("Store the token in the OS keychain?").
				Value(&a.UseKeyring),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Persist the blacklist on disk?").
				Value(&a.Persist),
			huh.NewInput().
				Title("Data directory").
				Value(&a.DataDir),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Admin gateway address").
				Description("Leave empty to disable").
				Placeholder("127.0.0.1:8080").
				Value(&a.Bind),
			huh.NewInput().
				Title("Admin bearer token").
				EchoMode(huh.EchoModePassword).
				Value(&a.AdminToken),
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOptions("text", "json")...).
				Value(&a.LogFormat),
		),
	)
	return form.Run()
}

func validateToken(s string) error {
	if !tokenPattern.MatchString(s) {
		return errors.New("expected <digits>:<secret>")
	}
	return nil
}

func buildConfig(a answers) *config.Config {
	cfg := &config.Config{
		Version: "1",
		Log:     logging.Config{Format: a.LogFormat},
	}
	if a.UseKeyring {
		cfg.Telegram.TokenKeyring = true
	} else {
		cfg.Telegram.Token = a.Token
	}
	if a.Persist && a.DataDir != "" {
		cfg.Moderator.Path = filepath.Join(a.DataDir, "blacklist.db")
	}
	if a.Bind != "" {
		cfg.Gateway = gateway.Config{
			Bind: a.Bind,
			Auth: gateway.AuthConfig{BearerToken: a.AdminToken},
		}
	}
	return cfg
}

func writeConfig(path string, cfg *config.Config) error {
	raw, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o600)
}
