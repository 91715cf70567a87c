package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	logx "janitord/pkg/logx"
)

// Sender delivers one notification to its destination.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the structured log. It is the default
// destination when no webhook is configured.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) Send(ctx context.Context, n Notification) error {
	fields := []logx.Field{
		logx.String("event", n.Event),
		logx.String("task", n.TaskID),
	}
	if n.ItemsCleaned > 0 {
		fields = append(fields, logx.Int("items_cleaned", n.ItemsCleaned))
	}
	if n.BytesFreed > 0 {
		fields = append(fields, logx.Int64("bytes_freed", n.BytesFreed))
	}
	switch n.Severity {
	case SeverityAlert:
		s.Log.Error(n.Text, fields...)
	case SeverityWarn:
		s.Log.Warn(n.Text, fields...)
	default:
		s.Log.Info(n.Text, fields...)
	}
	return nil
}

// WebhookSender POSTs notifications as JSON to a fixed URL.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// NewSender picks the destination for the given config.
func NewSender(cfg Config, log logx.Logger) Sender {
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		return &WebhookSender{URL: url}
	}
	return LogSender{Log: log}
}
