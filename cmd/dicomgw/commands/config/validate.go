package config

import (
	"fmt"

	"github.com/marmos91/dicomgw/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dicomgw configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  dicomgw config validate

  # Validate specific config file
  dicomgw config validate --config /etc/dicomgw/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := warningsFor(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Edge:            %s (%s)\n", cfg.Edge.ID, cfg.Edge.AETitle)
	_, _ = fmt.Fprintf(out, "  Listen port:     %d\n", cfg.DIMSE.Port)
	_, _ = fmt.Fprintf(out, "  Blob store:      %s\n", cfg.Blob.Type)
	_, _ = fmt.Fprintf(out, "  Queue:           %s\n", cfg.Queue.Type)
	_, _ = fmt.Fprintf(out, "  Database type:   %s\n", cfg.Database.Type)
	_, _ = fmt.Fprintf(out, "  Thresholds:      throttle %d MB, refuse %d MB\n", cfg.Storage.ThrottleMB, cfg.Storage.OutOfResourceMB)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

// warningsFor flags settings that are valid but unusual in production.
func warningsFor(cfg *config.Config) []string {
	var warnings []string
	if cfg.Blob.Type == "memory" {
		warnings = append(warnings, "blob.type is memory: uploaded objects are lost on restart")
	}
	if cfg.Queue.Type == "memory" {
		warnings = append(warnings, "queue.type is memory: no notification leaves the process")
	}
	if cfg.DIMSE.Stack == "loopback" {
		warnings = append(warnings, "dimse.stack is loopback: no DICOM network traffic is served")
	}
	if !cfg.Ledger.Enabled {
		warnings = append(warnings, "ledger disabled: completed jobs are not recorded")
	}
	return warnings
}
