package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-ags/internal/config"
	"github.com/joeblew999/plat-ags/internal/logging"
	"github.com/joeblew999/plat-ags/internal/server"
)

// Options defines all CLI flags and env vars for the overlay server.
// Flags: --host, --port, --data-dir, --config, --log-level
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_CONFIG, SERVICE_LOG_LEVEL
// Unset flags fall back to the config file.
type Options struct {
	Host     string `doc:"Host to bind to"`
	Port     int    `doc:"Port to listen on" short:"p"`
	DataDir  string `doc:"Directory for overlay definitions and the journal"`
	Config   string `doc:"Path to the YAML config file" short:"c" default:"ags.yaml"`
	LogLevel string `doc:"Log level: debug, info, warn or error"`
}

// load resolves the effective configuration.
func load(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, nil
}

func newServer(opts *Options) (*server.Server, *config.Config, *zap.Logger, error) {
	cfg, err := load(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	srv, err := server.New(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return srv, cfg, logger, nil
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		hooks.OnStart(func() {
			srv, cfg, logger, err := newServer(opts)
			if err != nil {
				log.Fatalf("Startup error: %v", err)
			}
			defer logger.Sync()
			defer srv.Close()

			displayHost := cfg.Server.Host
			if displayHost == "0.0.0.0" || displayHost == "" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, cfg.Server.Port)

			logger.Info("plat-ags API server starting",
				zap.String("server", baseURL),
				zap.String("data", cfg.DataDir),
				zap.String("docs", baseURL+"/docs"),
				zap.String("openapi", baseURL+"/openapi.json"),
				zap.String("metrics", baseURL+"/metrics"),
				zap.Int("overlays", len(cfg.Overlays)),
			)

			if err := http.ListenAndServe(cfg.Server.Addr(), srv); err != nil {
				logger.Fatal("server error", zap.Error(err))
			}
		})
	})

	cli.Root().Use = "ags"
	cli.Root().Short = "Dynamic map service overlays for headless map views"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, _, _, err := newServer(opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()

			useYAML, _ := cmd.Flags().GetBool("yaml")
			if err := printOutput(srv.API().OpenAPI(), useYAML); err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(exportURLCmd(), identifyCmd())

	cli.Run()
}

// printOutput writes v to stdout as indented JSON or YAML. YAML goes
// through JSON first so json tags and raw messages are honored.
func printOutput(v any, useYAML bool) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if useYAML {
		var doc any
		if err := json.Unmarshal(output, &doc); err != nil {
			return err
		}
		if output, err = yaml.Marshal(doc); err != nil {
			return err
		}
	}
	fmt.Println(strings.TrimRight(string(output), "\n"))
	return nil
}
