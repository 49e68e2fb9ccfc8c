// Package notify sends operator notifications through ntfy.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending relay lifecycle notifications.
type Notifier interface {
	SnapshotReady(ctx context.Context, rows int, elapsed time.Duration) error
	IngestStopped(ctx context.Context, report IngestReport) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SnapshotReady sends a notification once the initial snapshot is captured.
func (c *Client) SnapshotReady(ctx context.Context, rows int, elapsed time.Duration) error {
	if !c.config.Enabled {
		return nil
	}

	title := c.title("Snapshot Ready")
	message := FormatSnapshotMessage(rows, elapsed)
	tags := c.config.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// IngestStopped sends a notification when the change source ends or fails.
func (c *Client) IngestStopped(ctx context.Context, report IngestReport) error {
	if !c.config.Enabled {
		return nil
	}

	title := c.title("Ingestion Stopped")
	tags := c.config.Tags + ",warning"
	if report.Err != nil {
		title = c.title("Ingestion Failed")
		tags = c.config.Tags + ",x"
	}
	message := FormatIngestStoppedMessage(report)
	priority := "high" // Override to high priority; live updates have stopped

	return c.send(ctx, title, message, tags, priority)
}

func (c *Client) title(event string) string {
	if c.config.Name == "" {
		return event
	}
	return fmt.Sprintf("%s: %s", event, c.config.Name)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", strings.TrimPrefix(tags, ","))

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SnapshotReady is a no-op.
func (n *NoopNotifier) SnapshotReady(_ context.Context, _ int, _ time.Duration) error {
	return nil
}

// IngestStopped is a no-op.
func (n *NoopNotifier) IngestStopped(_ context.Context, _ IngestReport) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if cfg == nil || !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
