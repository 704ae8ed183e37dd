package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dicomgw/pkg/state"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
// Workers.Count is left at zero, which the engine resolves to 4x CPU.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(cfg)
	applyEdgeDefaults(&cfg.Edge)
	applyStorageDefaults(&cfg.Storage)
	applyOrchestratorDefaults(&cfg.Orchestrator)
	applyHousekeepingDefaults(&cfg.Housekeeping)
	applyBlobDefaults(&cfg.Blob)
	applyQueueDefaults(&cfg.Queue)
	cfg.Database.ApplyDefaults()
	applyLedgerDefaults(&cfg.Ledger, cfg.Edge.Workdir)
	applyDIMSEDefaults(&cfg.DIMSE)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAPIDefaults(cfg *Config) {
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	cfg.API.ApplyDefaults()
}

func applyEdgeDefaults(cfg *EdgeConfig) {
	if cfg.AETitle == "" {
		cfg.AETitle = "EDGEDEVICE"
	}
	if cfg.Workdir == "" {
		cfg.Workdir = "/var/lib/dicomgw"
	}
	if cfg.MaxAssociations == 0 {
		cfg.MaxAssociations = 100
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.ThrottleMB == 0 {
		cfg.ThrottleMB = 1000
	}
	if cfg.OutOfResourceMB == 0 {
		cfg.OutOfResourceMB = 100
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = time.Second
	}
	if cfg.ThrottleDelay == 0 {
		cfg.ThrottleDelay = 5 * time.Second
	}
}

func applyOrchestratorDefaults(cfg *OrchestratorConfig) {
	if cfg.UploadBatchSize == 0 {
		cfg.UploadBatchSize = 1000
	}
	if cfg.UploadAssignInterval == 0 {
		cfg.UploadAssignInterval = 200 * time.Millisecond
	}
	if cfg.UploadCompletionInterval == 0 {
		cfg.UploadCompletionInterval = 100 * time.Millisecond
	}
	if cfg.FetchCompletionInterval == 0 {
		cfg.FetchCompletionInterval = 100 * time.Millisecond
	}
	if cfg.SendStatusInterval == 0 {
		cfg.SendStatusInterval = 5 * time.Second
	}
	if cfg.CompletionInterval == 0 {
		cfg.CompletionInterval = time.Second
	}
	if cfg.SendQueueSize == 0 {
		cfg.SendQueueSize = 64
	}
	if cfg.RequeueAfter == 0 {
		cfg.RequeueAfter = 5 * time.Minute
	}
	if cfg.FetchRetryAfter == 0 {
		cfg.FetchRetryAfter = 5 * time.Minute
	}
	if cfg.IntakeInterval == 0 {
		cfg.IntakeInterval = 1500 * time.Millisecond
	}
	if cfg.IntakeBatch == 0 {
		cfg.IntakeBatch = 10
	}
	if cfg.IntakeWait == 0 {
		cfg.IntakeWait = time.Second
	}
}

func applyHousekeepingDefaults(cfg *HousekeepingConfig) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	if cfg.OrphanAge == 0 {
		cfg.OrphanAge = time.Hour
	}
	if cfg.ForwardedRetention == 0 {
		cfg.ForwardedRetention = 24 * time.Hour
	}
}

func applyBlobDefaults(cfg *BlobConfig) {
	if cfg.Type == "" {
		cfg.Type = "s3"
	}
	if cfg.S3.ServerSideEncryption == "" {
		cfg.S3.ServerSideEncryption = "aws:kms"
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 3
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Type == "" {
		cfg.Type = "sqs"
	}
	if cfg.SQS.MaxRetries == 0 {
		cfg.SQS.MaxRetries = 3
	}
}

// applyLedgerDefaults places the ledger beside the in/ and out/ trees.
func applyLedgerDefaults(cfg *LedgerConfig, workdir string) {
	if cfg.Path == "" && cfg.Enabled {
		cfg.Path = filepath.Join(workdir, "ledger")
	}
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
}

func applyDIMSEDefaults(cfg *DIMSEConfig) {
	if cfg.Port == 0 {
		cfg.Port = 11112
	}
	if cfg.Stack == "" {
		cfg.Stack = "loopback"
	}
}

// GetDefaultConfig returns a Config with all defaults applied. Edge.ID and
// the S3 bucket are left empty; they must come from the file or the
// environment.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: state.Config{Type: state.DatabaseTypeSQLite},
		Ledger:   LedgerConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// applyLegacyEnv honors the environment variables the edge runtime has
// always been deployed with. They win over file and DICOMGW_* values.
func applyLegacyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var err error
	num := func(name string, set func(uint64)) {
		v, ok := lookup(name)
		if !ok || v == "" || err != nil {
			return
		}
		n, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			err = fmt.Errorf("invalid %s %q: %w", name, v, perr)
			return
		}
		set(n)
	}

	str("AWS_IOT_THING_NAME", &cfg.Edge.ID)
	str("BUCKETNAME", &cfg.Blob.S3.Bucket)

	num("THREADCOUNT", func(n uint64) { cfg.Workers.Count = int(n) })
	num("SCP_PORT", func(n uint64) { cfg.DIMSE.Port = int(n) })
	num("STORAGE_THROTTLE", func(n uint64) { cfg.Storage.ThrottleMB = n })
	num("STORAGE_OOR", func(n uint64) { cfg.Storage.OutOfResourceMB = n })
	if err != nil {
		return err
	}

	if v, ok := lookup("S3_TRANSFER_ACCELERATION"); ok && v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return fmt.Errorf("invalid S3_TRANSFER_ACCELERATION %q: %w", v, perr)
		}
		cfg.Blob.S3.Accelerate = b
	}

	region := ""
	str("REGION_NAME", &region)
	str("AWS_REGION", &region)
	if region != "" {
		cfg.Blob.S3.Region = region
		cfg.Queue.SQS.Region = region
	}

	if v, ok := lookup("LOGLEVEL"); ok && v != "" {
		cfg.Logging.Level = strings.ToUpper(v)
	}

	var key, secret string
	str("AWS_ACCESS_KEY", &key)
	str("AWS_SECRET_KEY", &secret)
	if key != "" && secret != "" {
		cfg.Blob.S3.AccessKeyID, cfg.Blob.S3.SecretAccessKey = key, secret
		cfg.Queue.SQS.AccessKeyID, cfg.Queue.SQS.SecretAccessKey = key, secret
	}
	return nil
}
