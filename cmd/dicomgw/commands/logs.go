package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/dicomgw/pkg/config"
	"github.com/spf13/cobra"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail gateway logs",
	Long: `Display and optionally follow the gateway logs.

This command reads the log file named by logging.output. When the gateway
logs to stdout or stderr, use the supervisor's log facility instead.

Examples:
  # Show last 100 lines (default)
  dicomgw logs

  # Follow logs in real-time
  dicomgw logs -f

  # Show logs since a specific time
  dicomgw logs --since "2026-01-15T10:00:00Z"`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since timestamp (RFC3339 format)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logOutput := cfg.Logging.Output
	if logOutput == "stdout" || logOutput == "stderr" {
		return fmt.Errorf("gateway is configured to log to %s, not a file\nSet 'logging.output' to a file path to use this command", logOutput)
	}
	if _, err := os.Stat(logOutput); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s\nThe gateway may not have started yet or is logging elsewhere", logOutput)
	}

	var sinceTime time.Time
	if logsSince != "" {
		sinceTime, err = time.Parse(time.RFC3339, logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use RFC3339): %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if logsFollow {
		return followLogs(out, logOutput, logsLines, sinceTime)
	}
	return showLogs(out, logOutput, logsLines, sinceTime)
}

// showLogs writes the last n lines of logFile logged at or after since.
func showLogs(w io.Writer, logFile string, n int, since time.Time) error {
	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	lines, err := tailLines(file, n, since)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

// tailLines keeps a ring of the last n matching lines.
func tailLines(r io.Reader, n int, since time.Time) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, 0, n)
	next := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if t := extractTimestamp(line); !t.IsZero() && t.Before(since) {
				continue
			}
		}
		if len(ring) < n {
			ring = append(ring, line)
			continue
		}
		ring[next] = line
		next = (next + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	return append(ring[next:], ring[:next]...), nil
}

// followLogs prints the tail, then every line appended to logFile until
// interrupted.
func followLogs(w io.Writer, logFile string, initialLines int, since time.Time) error {
	if err := showLogs(w, logFile, initialLines, since); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(logFile); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end of log file: %w", err)
	}
	reader := bufio.NewReader(file)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", logFile)

	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				for {
					chunk, err := reader.ReadString('\n')
					partial += chunk
					if err != nil {
						break
					}
					_, _ = fmt.Fprint(w, partial)
					partial = ""
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// extractTimestamp reads the time of a log line written by either handler:
// text lines start with "[2006-01-02 15:04:05]" in local time, JSON lines
// carry a "time" field.
func extractTimestamp(line string) time.Time {
	const textLayout = "2006-01-02 15:04:05"
	if len(line) > len(textLayout)+1 && line[0] == '[' && line[len(textLayout)+1] == ']' {
		if t, err := time.ParseInLocation(textLayout, line[1:len(textLayout)+1], time.Local); err == nil {
			return t
		}
	}

	const timeKey = `"time":"`
	if idx := strings.Index(line, timeKey); idx >= 0 {
		rest := line[idx+len(timeKey):]
		if end := strings.IndexByte(rest, '"'); end > 0 {
			if t, err := time.Parse(time.RFC3339Nano, rest[:end]); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
