package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/pelican/internal/config"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceStopTimeout = 15 * time.Second

// program adapts run to the service manager's Start/Stop contract.
type program struct {
	cfg    *config.Config
	cancel context.CancelFunc
	done   chan error
}

// Start implements service.Interface. It must not block.
func (p *program) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- run(ctx, p.cfg, os.Stderr)
	}()
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(serviceStopTimeout):
		return errors.New("timed out waiting for the bot to stop")
	}
}

func serviceConfig(cfgPath string) (*service.Config, error) {
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, err
	}
	return &service.Config{
		Name:        "pelican",
		DisplayName: "Pelican Telegram bot",
		Description: "Runs the pelican Telegram bot.",
		Arguments:   []string{"service", "run", "--config", abs},
	}, nil
}

func newService(cmd *cobra.Command) (service.Service, *config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		resolved, err := resolveConfigPath()
		if err != nil {
			return nil, nil, err
		}
		cfgPath = resolved
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}

	svcCfg, err := serviceConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	prg := &program{cfg: cfg}
	svc, err := service.New(prg, svcCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("service: %w", err)
	}
	return svc, cfg, nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage pelican as a system service",
	}
	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install the system service",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, _, err := newService(cmd)
				if err != nil {
					return err
				}
				if err := svc.Install(); err != nil {
					return fmt.Errorf("service install: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Service installed.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Remove the system service",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, _, err := newService(cmd)
				if err != nil {
					return err
				}
				if err := svc.Uninstall(); err != nil {
					return fmt.Errorf("service uninstall: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Service uninstalled.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run under the service manager",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, _, err := newService(cmd)
				if err != nil {
					return err
				}
				return svc.Run()
			},
		},
	)
	return cmd
}
