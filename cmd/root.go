package cmd

import (
	"fmt"
	"os"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/xpose-agent/cli/internal/config"
	"github.com/xpose-agent/cli/internal/tui"
	"github.com/xpose-agent/cli/internal/tunnel"
	"github.com/xpose-agent/cli/internal/version"
)

var (
	tokenFlag      string
	hostFlag       string
	tunnelFlag     string
	configPathFlag string
	maxBodyFlag    int
)

var rootCmd = &cobra.Command{
	Use:     "xpose-agent",
	Short:   "Bridge a private tunnel server to a local origin server",
	Version: version.String(),
	Args:    cobra.NoArgs,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&tokenFlag, "token", "", "Authentication token (env XPOSE_TOKEN)")
	rootCmd.Flags().StringVar(&hostFlag, "host", "", "Local origin base URL, e.g. http://127.0.0.1:3000 (env XPOSE_HOST)")
	rootCmd.Flags().StringVar(&tunnelFlag, "tunnel", "", "Tunnel server authority, e.g. tunnel.example.com (env XPOSE_TUNNEL)")
	rootCmd.Flags().StringVar(&configPathFlag, "config", "", "Path to a YAML config file (default: $XDG_CONFIG_HOME/xpose-agent/config.yaml)")
	rootCmd.Flags().IntVar(&maxBodyFlag, "max-body-size", 0, "Maximum buffered request/response body size in bytes")
}

func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Resolve(config.Flags{
		Token:            tokenFlag,
		Host:             hostFlag,
		Tunnel:           tunnelFlag,
		ConfigPath:       configPathFlag,
		MaxBodySizeBytes: maxBodyFlag,
		MaxBodySizeSet:   cmd.Flags().Changed("max-body-size"),
	})
	if err != nil {
		return err
	}

	client := tunnel.NewClient(tunnel.Options{
		Token:            cfg.Token,
		Origin:           cfg.Host,
		TunnelAuthority:  cfg.Tunnel,
		MaxBodySizeBytes: cfg.MaxBodySizeBytes,
	})
	client.Connect()

	model := tui.NewModel(client, cfg.Host, cfg.Tunnel, cfg.MaxBodySizeBytes)
	p := tea.NewProgram(model)
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	if m, ok := finalModel.(tui.Model); ok && m.Status() == tunnel.StatusUnauthorized {
		fmt.Fprintln(os.Stderr, "  Authentication rejected by tunnel server.")
		os.Exit(1)
	}

	return nil
}
