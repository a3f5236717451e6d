// Package main provides the Heimdall entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rennerdo30/heimdall/internal/cli"
	"github.com/rennerdo30/heimdall/internal/config"
	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/service"
	"github.com/rennerdo30/heimdall/internal/supervisor"
	"github.com/rennerdo30/heimdall/internal/version"
)

var (
	configFile string

	// Config init flags
	initOutput string
	initForce  bool

	// Service flags
	serviceConfigPath string

	rootCmd = &cobra.Command{
		Use:   "heimdall",
		Short: "Heimdall Tunnel Network Supervisor",
		Long: `Heimdall keeps a tunneling engine's egress binding in sync with the
OS's physical networks, debounces network churn, and self-heals when the
tunnel stops passing traffic.`,
		RunE: run,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "heimdall.yaml", "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultServiceConfig()
			if err := config.LoadAndValidate(configFile, &cfg); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Println("Configuration is valid")
			return nil
		},
	})

	// Add CLI control commands
	rootCmd.AddCommand(cli.NewCommands())

	// Add config commands
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a sample configuration file",
		Long: `Generate a fully commented sample configuration file.

The generated configuration includes:
  - The static engine, so the service runs without credentials
  - Network observation and transition tuning with explained defaults
  - Link health and reset escalation settings
  - The local diagnostics API, metrics, and event log`,
		RunE: runConfigInit,
	}

	initCmd.Flags().StringVarP(&initOutput, "output", "o", "heimdall.yaml", "output file path")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing file")

	configCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)

	// Add service management commands
	rootCmd.AddCommand(newServiceCommand())
}

func newServiceCommand() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the OS service",
	}

	serviceCmd.PersistentFlags().StringVar(&serviceConfigPath, "config-path", "heimdall.yaml", "config file the service runs with")

	serviceInstallCmd := &cobra.Command{
		Use:   "install",
		Short: "Install Heimdall as an OS service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			if err := mgr.Install(); err != nil {
				return fmt.Errorf("install service: %w", err)
			}
			fmt.Printf("Service installed (%s)\n", service.Platform())
			return nil
		},
	}

	serviceUninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the OS service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			if err := mgr.Uninstall(); err != nil {
				return fmt.Errorf("uninstall service: %w", err)
			}
			fmt.Println("Service uninstalled")
			return nil
		},
	}

	serviceStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show OS service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			status, err := mgr.Status()
			if err != nil {
				return fmt.Errorf("service status: %w", err)
			}
			fmt.Println(status)
			return nil
		},
	}

	serviceCmd.AddCommand(serviceInstallCmd, serviceUninstallCmd, serviceStatusCmd)
	return serviceCmd
}

func newServiceManager() (*service.Manager, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return service.New(service.Config{
		Name:       "heimdall",
		BinaryPath: binary,
		ConfigPath: serviceConfigPath,
	})
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	if err := os.WriteFile(initOutput, []byte(config.DefaultServiceConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Generated configuration: %s\n\n", initOutput)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Review and customize the configuration\n")
	fmt.Printf("  2. Start the service: heimdall -c %s\n", initOutput)

	return nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultServiceConfig()
	if err := config.LoadAndValidate(configFile, &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := supervisor.New(&cfg)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}
	s.SetConfigPath(configFile)

	defer logging.Close()
	return service.Run("heimdall", s)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
