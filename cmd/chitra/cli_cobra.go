package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/chitra/pkg/config"
	"github.com/dotsetgreg/chitra/pkg/logger"
	"github.com/dotsetgreg/chitra/pkg/onboarding"
	"github.com/dotsetgreg/chitra/pkg/providers"
)

func executeCLI() error {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

type globalOptions struct {
	configPath string
	debug      bool
}

func buildRootCommand() *cobra.Command {
	var showVersion bool
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Local-first personal assistant with memory, reminders and proactive check-ins",
		Long: strings.TrimSpace(`chitra is a single-user assistant that runs on your own machine.

It keeps contacts, calendar, reminders, tasks and memories in local SQLite
databases, talks to a local Ollama model, and checks in on its own when
something needs your attention.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "Path to config.json")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newOnboardCommand(opts))
	root.AddCommand(newStatusCommand(opts))
	root.AddCommand(newConfigCommand(opts))
	root.AddCommand(newVersionCommand())

	return root
}

// loadConfig reads the config and applies the log level.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if o.debug {
		logger.SetLevel(logger.DEBUG)
	}
	return cfg, nil
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		message     string
		noProactive bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session with proactive check-ins",
		Long:  "Start the conversation console, the turn handler and the proactive scheduler. Onboarding runs first on a fresh install.",
		Example: strings.Join([]string{
			"  chitra run",
			"  chitra run --no-proactive",
			"  chitra run --message \"what's on today?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(message) != "" {
				return runOnce(cmd.Context(), cfg, message, cmd.OutOrStdout())
			}
			return runInteractive(cmd.Context(), cfg, !noProactive)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Handle one message and exit")
	cmd.Flags().BoolVar(&noProactive, "no-proactive", false, "Disable proactive check-ins for this session")

	return cmd
}

func newOnboardCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Run the first-run conversation again",
		Long:    "Ask the onboarding questions and store the answers as memories. Creates a default config when none exists.",
		Example: "  chitra onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); os.IsNotExist(err) {
				if err := config.SaveConfig(opts.configPath, config.DefaultConfig()); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", opts.configPath)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runOnboarding(cmd.Context(), cfg)
		},
	}
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and storage readiness",
		Example: "  chitra status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			printStatus(cmd, opts.configPath, cfg)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, configPath string, cfg *config.Config) {
	out := cmd.OutOrStdout()
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n", formatVersion())
	if build, _ := formatBuildInfo(); build != "" {
		fmt.Fprintf(out, "Build: %s\n", build)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Config:", configPath, mark(exists(configPath)))
	dataDir := cfg.DataDir()
	fmt.Fprintln(out, "Data dir:", dataDir, mark(exists(dataDir)))
	for _, name := range storeNames {
		path := cfg.DBPath(name)
		state := "not initialized"
		if exists(path) {
			state = "✓"
		}
		fmt.Fprintf(out, "  %s: %s\n", filepath.Base(path), state)
	}
	fmt.Fprintln(out, "Onboarded:", mark(exists(filepath.Join(dataDir, onboarding.MarkerFile))))

	fmt.Fprintf(out, "Model: %s via %s at %s\n", cfg.Model.Name, providers.NormalizeProviderName(cfg.Model.Provider), cfg.Model.Endpoint)
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		fmt.Fprintln(out, "Provider config:", err)
	} else {
		fmt.Fprintln(out, "Provider config:", mark(true))
	}
	proactive := "disabled"
	if cfg.Proactive.Enabled {
		proactive = fmt.Sprintf("every %s", cfg.ProactiveInterval())
	}
	fmt.Fprintln(out, "Proactive:", proactive)
}

func newConfigCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:     "init",
		Short:   "Write the default config",
		Example: "  chitra config init --force",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", opts.configPath)
				fmt.Fprint(cmd.OutOrStdout(), "Overwrite? (y/n): ")
				reader := bufio.NewReader(cmd.InOrStdin())
				response, readErr := reader.ReadString('\n')
				if readErr != nil && response == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
				response = strings.ToLower(strings.TrimSpace(response))
				if response != "y" && response != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			if err := config.SaveConfig(opts.configPath, config.DefaultConfig()); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", opts.configPath)
			fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
			fmt.Fprintln(cmd.OutOrStdout(), "  1. Start Ollama: ollama serve")
			fmt.Fprintf(cmd.OutOrStdout(), "  2. Pull the model: ollama pull %s\n", config.DefaultConfig().Model.Name)
			fmt.Fprintln(cmd.OutOrStdout(), "  3. Talk to Chitra: chitra run")
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config without asking")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config (file plus environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}
