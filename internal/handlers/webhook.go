package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/jobexec"
)

// WebhookConfig is the configuration of a webhook job.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Secret  string            `json:"secret,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// webhookBody is what the receiver gets.
type webhookBody struct {
	JobID             string          `json:"job_id"`
	Kind              string          `json:"kind"`
	TenantID          string          `json:"tenant_id,omitempty"`
	ProcessInstanceID string          `json:"process_instance_id,omitempty"`
	Attempt           int             `json:"attempt"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

// Webhook POSTs the job to a URL. Any non-2xx response fails the attempt.
type Webhook struct {
	client *http.Client
}

func NewWebhook(client *http.Client) *Webhook { return &Webhook{client: client} }

func (w *Webhook) Execute(ctx context.Context, ec jobexec.ExecutionContext, configuration []byte) error {
	var cfg WebhookConfig
	if err := json.Unmarshal(configuration, &cfg); err != nil {
		return errors.Wrap(err, "webhook: decode configuration")
	}
	if cfg.URL == "" {
		return errors.New("webhook: url is required")
	}

	raw, err := json.Marshal(webhookBody{
		JobID:             ec.JobID,
		Kind:              string(ec.Kind),
		TenantID:          ec.TenantID,
		ProcessInstanceID: ec.ProcessInstanceID,
		Attempt:           ec.Attempt,
		Payload:           cfg.Payload,
	})
	if err != nil {
		return errors.Wrap(err, "webhook: encode body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "webhook: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		if strings.TrimSpace(k) != "" {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("X-Job-Id", ec.JobID)
	req.Header.Set("X-Job-Attempt", strconv.Itoa(ec.Attempt))
	if cfg.Secret != "" {
		ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
		req.Header.Set("X-Job-Timestamp", ts)
		req.Header.Set("X-Job-Signature", "v1="+Sign(cfg.Secret, ts, raw))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook: send")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("webhook: %s responded %d: %s", cfg.URL, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	ec.Logger.Debug("webhook delivered", zap.String("url", cfg.URL), zap.Int("status", resp.StatusCode))
	return nil
}

// Sign returns hex(hmac_sha256(secret, timestamp + "." + body)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
