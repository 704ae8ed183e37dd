package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/marmos91/dicomgw/internal/cli/output"
	"github.com/marmos91/dicomgw/internal/cli/timeutil"
	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/pkg/config"
	"github.com/marmos91/dicomgw/pkg/gateway"
	"github.com/spf13/cobra"
)

var (
	statusOutput  string
	statusAPIPort int
	statusHost    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long: `Display the state of a running gateway.

Queries the status API and prints storage pressure, StateStore counts,
queue backlogs and the state of every worker.

Examples:
  # Check status (API port from the config file)
  dicomgw status

  # Check status with a custom API port
  dicomgw status --api-port 9080

  # Output as JSON
  dicomgw status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusHost, "host", "localhost", "API server host")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 0, "API server port (default: api.port from config, else 8080)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// statusResponse mirrors the API envelope with a typed payload.
type statusResponse struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Data      gateway.Snapshot `json:"data"`
	Error     string           `json:"error"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/api/v1/status", statusHost, resolveAPIPort())
	snap, err := fetchStatus(&http.Client{Timeout: 3 * time.Second}, url)
	if err != nil {
		return fmt.Errorf("gateway is not reachable at %s: %w", url, err)
	}

	p := output.NewPrinter(os.Stdout, format, logger.IsTerminal(os.Stdout))
	if format != output.FormatTable {
		return p.Print(snap)
	}
	return p.Print(statusView{snap: snap, now: time.Now()})
}

func resolveAPIPort() int {
	if statusAPIPort != 0 {
		return statusAPIPort
	}
	if cfg, err := config.Load(GetConfigFile()); err == nil && cfg.API.Port != 0 {
		return cfg.API.Port
	}
	return 8080
}

func fetchStatus(client *http.Client, url string) (gateway.Snapshot, error) {
	resp, err := client.Get(url)
	if err != nil {
		return gateway.Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return gateway.Snapshot{}, fmt.Errorf("invalid status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		msg := body.Error
		if msg == "" {
			msg = resp.Status
		}
		return gateway.Snapshot{}, fmt.Errorf("status request failed: %s", msg)
	}
	return body.Data, nil
}

// statusView renders a Snapshot as a summary and one table per pool.
type statusView struct {
	snap gateway.Snapshot
	now  time.Time
}

func (v statusView) Sections() []output.Section {
	s := v.snap

	running := "stopped"
	if s.Running {
		running = "running"
	}
	uptime := "-"
	if s.Running && !s.StartedAt.IsZero() {
		uptime = timeutil.FormatDuration(v.now.Sub(s.StartedAt))
	}

	summary := output.KeyValues{
		{"Edge", s.EdgeID},
		{"AE title", s.AETitle},
		{"Datastore", s.Datastore},
		{"Gateway", running},
		{"Started", timeutil.FormatTime(s.StartedAt)},
		{"Uptime", uptime},
		{"Disk pressure", s.Storage.Pressure},
		{"Free space", timeutil.FormatBytes(s.Storage.FreeBytes)},
		{"Associations", strconv.Itoa(s.ActiveAssociations)},
		{"Unsent / queued / sent", fmt.Sprintf("%d / %d / %d", s.State.Unsent, s.State.Queued, s.State.Sent)},
		{"Pending fetches", strconv.FormatInt(s.State.PendingFetches, 10)},
		{"Ready jobs", strconv.Itoa(s.ReadyJobs)},
		{"Notifications backlog", fmt.Sprintf("in %d / out %d", s.InboundBacklog, s.OutboundBacklog)},
	}

	transfers := output.NewTable("POOL", "WORKER", "STATUS", "QUEUED", "PROCESSED", "FAILED")
	for _, w := range s.Upload {
		transfers.AddRow("upload", strconv.Itoa(w.Index), w.State, strconv.Itoa(w.Queued),
			strconv.FormatInt(w.Processed, 10), strconv.FormatInt(w.Failed, 10))
	}
	for _, w := range s.Fetch {
		transfers.AddRow("fetch", strconv.Itoa(w.Index), w.State, strconv.Itoa(w.Queued),
			strconv.FormatInt(w.Processed, 10), strconv.FormatInt(w.Failed, 10))
	}

	sends := output.NewTable("WORKER", "STATUS", "JOB", "DESTINATION", "PROGRESS")
	for _, w := range s.Send {
		progress := "-"
		if w.JobID != "" {
			progress = fmt.Sprintf("%d/%d", w.Sent, w.Total)
		}
		job := w.JobID
		if job == "" {
			job = "-"
		}
		dest := w.DestAE
		if dest == "" {
			dest = "-"
		}
		sends.AddRow(strconv.Itoa(w.Index), w.State, job, dest, progress)
	}

	return []output.Section{
		{Title: "Gateway", Table: summary},
		{Title: "Transfer workers", Table: transfers},
		{Title: "Send workers", Table: sends},
	}
}
