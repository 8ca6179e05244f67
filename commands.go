package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rook-computer/scanout/internal/kms"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect scanout configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Print the configuration after merging defaults, the config file,
SCANOUT_* environment variables and flags.`,
		Example: `  scanout config show
  SCANOUT_MODE=1280x720 scanout config show --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg, format)
		},
	}
	show.Flags().StringVarP(&format, "output", "o", "yaml", "output format (yaml or json)")

	configCmd.AddCommand(show)
	return configCmd
}

func writeConfig(w io.Writer, cfg any, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", format)
	}
}

func newModesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List connectors and their modes",
		Long: `Open the DRM card without becoming master and list every connector,
whether it is connected and the modes it offers. The preferred mode is
marked with '*'.`,
		Example: `  scanout modes
  scanout modes --device /dev/dri/card1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			card, err := kms.OpenDevice(cfg.Device)
			if err != nil {
				return err
			}
			defer card.Close()
			return listOutputs(cmd.OutOrStdout(), card)
		},
	}
}

func listOutputs(w io.Writer, card kms.Card) error {
	res, err := card.Resources()
	if err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "CONNECTOR\tSTATUS\tMODE\tREFRESH\n")
	for _, id := range res.Connectors {
		conn, err := card.Connector(id)
		if err != nil {
			return fmt.Errorf("connector %d: %w", id, err)
		}
		status := "disconnected"
		if conn.Connected {
			status = "connected"
		}
		if len(conn.Modes) == 0 {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\n", conn.ID, status)
			continue
		}
		for i, m := range conn.Modes {
			label := fmt.Sprintf("%dx%d", m.Hdisplay, m.Vdisplay)
			if name := kms.ModeName(m); name != "" {
				label = name
			}
			if m.Type&kms.ModeTypePreferred != 0 {
				label += "*"
			}
			idCol, statusCol := "", ""
			if i == 0 {
				idCol, statusCol = fmt.Sprint(conn.ID), status
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", idCol, statusCol, label, m.Vrefresh)
		}
	}
	return tw.Flush()
}
