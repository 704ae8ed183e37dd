package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dicomgw/internal/cli/prompt"
	"github.com/marmos91/dicomgw/pkg/config"
	"github.com/spf13/cobra"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a dicomgw configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dicomgw/config.yaml.
Use --config to specify a custom path. With --interactive the edge identity,
backends and thresholds are asked for; otherwise defaults are written and the
edge id and bucket must be filled in before starting.

Examples:
  # Initialize with default location
  dicomgw init

  # Answer a few questions first
  dicomgw init --interactive

  # Initialize with custom path, overwriting an existing file
  dicomgw init --config /etc/dicomgw/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the main settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s\nUse --force to overwrite", configPath)
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := askSettings(cfg); err != nil {
			if prompt.IsAborted(err) {
				fmt.Println("Aborted.")
				return nil
			}
			return err
		}
	}

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	if cfg.Edge.ID == "" {
		fmt.Println("  - Set edge.id (or AWS_IOT_THING_NAME)")
	}
	if cfg.Blob.Type == "s3" && cfg.Blob.S3.Bucket == "" {
		fmt.Println("  - Set blob.s3.bucket (or BUCKETNAME)")
	}
	fmt.Println("  - Check the result with: dicomgw config validate")
	fmt.Printf("  - Start the gateway with: dicomgw start --config %s\n", configPath)
	return nil
}

// askSettings fills the settings an operator usually changes.
func askSettings(cfg *config.Config) error {
	var err error

	if cfg.Edge.ID, err = prompt.InputRequired("Edge ID", cfg.Edge.ID); err != nil {
		return err
	}
	if cfg.Edge.AETitle, err = prompt.InputRequired("Local AE title", cfg.Edge.AETitle); err != nil {
		return err
	}
	if cfg.Edge.Workdir, err = prompt.InputRequired("Work directory", cfg.Edge.Workdir); err != nil {
		return err
	}
	if cfg.DIMSE.Port, err = prompt.Port("DICOM listen port", cfg.DIMSE.Port); err != nil {
		return err
	}

	if cfg.Blob.Type, err = prompt.Select("Blob store", []string{"s3", "fs", "memory"}); err != nil {
		return err
	}
	switch cfg.Blob.Type {
	case "s3":
		if cfg.Blob.S3.Bucket, err = prompt.InputRequired("S3 bucket", ""); err != nil {
			return err
		}
		if cfg.Blob.S3.Region, err = prompt.Input("AWS region", "us-east-1"); err != nil {
			return err
		}
	case "fs":
		if cfg.Blob.FS.Root, err = prompt.InputRequired("Blob directory", filepath.Join(cfg.Edge.Workdir, "blobs")); err != nil {
			return err
		}
		cfg.Blob.FS.CreateDir = true
	}

	if cfg.Queue.Type, err = prompt.Select("Queue", []string{"sqs", "memory"}); err != nil {
		return err
	}
	if cfg.Queue.Type == "sqs" {
		region := cfg.Blob.S3.Region
		if region == "" {
			region = "us-east-1"
		}
		if cfg.Queue.SQS.Region, err = prompt.Input("SQS region", region); err != nil {
			return err
		}
	}

	if cfg.Storage.ThrottleMB, err = prompt.Uint("Throttle below free MB", cfg.Storage.ThrottleMB); err != nil {
		return err
	}
	if cfg.Storage.OutOfResourceMB, err = prompt.Uint("Refuse objects below free MB", cfg.Storage.OutOfResourceMB); err != nil {
		return err
	}
	workers, err := prompt.Uint("Workers per pool (0 = 4x CPU)", uint64(cfg.Workers.Count))
	if err != nil {
		return err
	}
	cfg.Workers.Count = int(workers)

	keep, err := prompt.Confirm("Keep a ledger of completed jobs", cfg.Ledger.Enabled)
	if err != nil {
		return err
	}
	cfg.Ledger.Enabled = keep
	cfg.Ledger.Path = ""
	if keep {
		cfg.Ledger.Path = filepath.Join(cfg.Edge.Workdir, "ledger")
	}
	return nil
}
