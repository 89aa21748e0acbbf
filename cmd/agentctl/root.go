package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostbridge/agentsdk/internal/agent"
	"github.com/hostbridge/agentsdk/internal/config"
	"github.com/hostbridge/agentsdk/internal/logging"
)

// shutdownTimeout bounds journal flush and socket close on exit.
const shutdownTimeout = 5 * time.Second

// app holds state shared by subcommands.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Send, request and listen on the host agent socket",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before config")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newSendCmd(a),
		newRequestCmd(a),
		newListenCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}

	cfg, err := config.LoadWithDefaults(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, closeLog, err := logging.Setup(cfg.Logging, nil)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.closeLog = closeLog
	return nil
}

// connect starts an agent and returns a stop func for deferred shutdown.
func (a *app) connect(ctx context.Context) (*agent.Agent, func(), error) {
	ag, err := agent.New(a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := ag.Start(ctx); err != nil {
		return nil, nil, err
	}

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ag.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
	return ag, stop, nil
}

// parseMessage validates a JSON object argument.
func parseMessage(arg string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(arg), &obj); err != nil {
		return nil, fmt.Errorf("message must be a JSON object: %w", err)
	}
	if _, ok := obj["type"]; !ok {
		return nil, errors.New(`message must have a "type" field`)
	}
	return json.RawMessage(arg), nil
}
