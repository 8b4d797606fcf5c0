package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lsst-ts/ts-standardscripts/internal/api"
	"github.com/lsst-ts/ts-standardscripts/internal/auth"
	"github.com/lsst-ts/ts-standardscripts/internal/history"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/config"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
	"github.com/lsst-ts/ts-standardscripts/internal/scripts"
)

// errOffline is returned by the transport of commands that never talk to
// the broker.
var errOffline = errors.New("tsscript: no broker connection")

func newListCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range scripts.Default().List() {
				if strings.HasPrefix(name, prefix) {
					fmt.Fprintln(out, name)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list scripts whose name starts with prefix")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema NAME",
		Short: "Print the configuration schema of a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			domain := salobj.NewDomain(offlineTransport{}, salobj.DomainConfig{Origin: "tsscript"}, nil)
			s, err := scripts.Default().New(name, scripts.Deps{Domain: domain}, 0)
			if err != nil {
				return err
			}
			schema := s.Schema()
			if strings.TrimSpace(schema) == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s takes no configuration\n", name)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), schema)
			return nil
		},
	}
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		index        int
		scriptConfig string
	)
	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Configure and run one script",
		Long: `Configure and run one script instance. The configuration is YAML read
from --script-config ("-" for stdin). Interrupting the command stops the
script.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			registry := scripts.Default()
			if !registry.Has(name) {
				return fmt.Errorf("%w: %s", scripts.ErrUnknownScript, name)
			}
			if index < 1 {
				return fmt.Errorf("--index must be positive, got %d", index)
			}
			raw, err := readScriptConfig(scriptConfig, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			in, err := openInfra(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer in.Close()

			host, err := newHost(in, registry, name, index)
			if err != nil {
				return err
			}
			return runHost(ctx, host, name, raw, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&index, "index", 1, "script index (SAL index of the Script component)")
	cmd.Flags().StringVarP(&scriptConfig, "script-config", "s", "", "YAML configuration file of the script, - for stdin")
	return cmd
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the script monitor API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			in, err := openInfra(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer in.Close()

			qos := byte(cfg.MQTT.QoS)
			domain := salobj.NewDomain(in.mqtt, salobj.DomainConfig{
				Topics: in.topics, Origin: "tsscript-monitor", QoS: qos,
			}, log)
			srv, err := api.New(api.Deps{
				Config:   cfg.API,
				Logger:   log,
				Registry: scripts.Default(),
				Scripts:  scripts.Deps{Domain: domain, Log: log},
				History:  history.NewSQLiteRepository(in.db.DB),
				Events:   in.mqtt,
				Topics:   in.topics,
				QoS:      qos,
				Broker:   in.mqtt,
				Version:  version,
			})
			if err != nil {
				return fmt.Errorf("creating API server: %w", err)
			}
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("starting API server: %w", err)
			}
			defer func() {
				if err := srv.Close(); err != nil {
					log.Error("error closing API server", "error", err)
				}
			}()

			log.Info("initialisation complete, waiting for shutdown signal")
			<-ctx.Done()
			log.Info("shutdown signal received, cleaning up")
			return nil
		},
	}
}

// newHost builds script name at index with its events, history and metrics
// wired to the open connections. Script log records at INFO and above are
// also published on the script log topic.
func newTokenCmd(flags *globalFlags) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the monitor API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			cfg, err := config.Load(resolveConfigPath(flags.configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("api.jwt_secret is not set; the monitor API is unauthenticated")
			}
			token, err := auth.GenerateToken(subject, cfg.API.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}

func newHost(in *infra, registry *scripts.Registry, name string, index int) (*script.Host, error) {
	qos := byte(in.cfg.MQTT.QoS)
	events := script.NewEvents(in.mqtt, in.topics, index, qos)
	log := in.log.Forward(slog.LevelInfo, events.Log)

	domain := salobj.NewDomain(in.mqtt, salobj.DomainConfig{
		Topics: in.topics,
		Origin: fmt.Sprintf("Script:%d", index),
		QoS:    qos,
	}, log)

	deps := scripts.Deps{Domain: domain, Events: events, Log: log}
	if in.lfa != nil {
		deps.LFA = in.lfa
	}
	if in.images != nil {
		deps.ObsIDs = in.images
	}
	s, err := registry.New(name, deps, index)
	if err != nil {
		return nil, err
	}

	hcfg := script.HostConfig{
		Name:    name,
		Index:   index,
		Events:  events,
		History: history.NewSQLiteRepository(in.db.DB),
		Log:     log,
	}
	if in.influx != nil {
		hcfg.Metrics = in.influx
	}
	return script.NewHost(s, hcfg), nil
}

// scriptHost is the part of *script.Host that runHost drives.
type scriptHost interface {
	Configure(ctx context.Context, raw []byte) error
	Run(ctx context.Context) error
	State() script.State
	ExecutionID() string
}

// runHost configures and runs host, reporting the outcome on out.
func runHost(ctx context.Context, host scriptHost, name string, raw []byte, out io.Writer) error {
	if err := host.Configure(ctx, raw); err != nil {
		return fmt.Errorf("configuring %s: %w", name, err)
	}
	err := host.Run(ctx)
	fmt.Fprintf(out, "%s %s (execution %s)\n", name, host.State(), host.ExecutionID())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// readScriptConfig reads the script configuration from path, or from stdin
// when path is "-". An empty path is an empty configuration.
func readScriptConfig(path string, stdin io.Reader) ([]byte, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading script configuration from stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script configuration: %w", err)
	}
	return raw, nil
}

// offlineTransport lets schema inspection build scripts without a broker.
type offlineTransport struct{}

var _ salobj.Transport = offlineTransport{}

func (offlineTransport) Publish(string, []byte, byte, bool) error { return errOffline }

func (offlineTransport) Subscribe(string, byte, func(string, []byte) error) error {
	return errOffline
}

func (offlineTransport) Unsubscribe(string) error { return nil }
