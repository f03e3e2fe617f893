package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/logging"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// sendNotification delivers an interpolated message over the configured
// channel. Email has no SMTP transport wired; it validates the config and
// logs the message, reporting delivery as "logged".
func (ex *Executor) sendNotification(ctx context.Context, cfg *schema.SendNotificationAction, ec *ExecContext) (map[string]any, error) {
	subject := ex.interp.Resolve(cfg.Subject, ec.Tokens)
	body := ex.interp.Resolve(cfg.Body, ec.Tokens)

	switch cfg.Channel {
	case schema.ChannelWebhook:
		if cfg.URL == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "webhook notification requires a url")
		}
		url := ex.interp.Resolve(cfg.URL, ec.Tokens)
		// Generic receivers consume {text, subject?}.
		payload := map[string]any{"text": body}
		if subject != "" {
			payload["subject"] = subject
		}

		if ec.DryRun {
			return map[string]any{
				"dry_run": true,
				"channel": string(cfg.Channel),
				"url":     url,
				"payload": payload,
			}, nil
		}

		status, err := ex.postJSON(ctx, url, nil, payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"channel":     string(cfg.Channel),
			"url":         url,
			"status_code": status,
			"delivered":   true,
		}, nil

	case schema.ChannelSlack:
		if cfg.URL == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "slack notification requires a webhook url")
		}
		url := ex.interp.Resolve(cfg.URL, ec.Tokens)
		text := body
		if subject != "" {
			text = fmt.Sprintf("*%s*\n%s", subject, body)
		}
		payload := map[string]any{"text": text}
		if cfg.SlackChannel != "" {
			payload["channel"] = ex.interp.Resolve(cfg.SlackChannel, ec.Tokens)
		}

		if ec.DryRun {
			return map[string]any{
				"dry_run": true,
				"channel": string(cfg.Channel),
				"url":     url,
				"payload": payload,
			}, nil
		}

		status, err := ex.postJSON(ctx, url, nil, payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"channel":     string(cfg.Channel),
			"url":         url,
			"status_code": status,
			"delivered":   true,
		}, nil

	case schema.ChannelEmail:
		recipient := strings.TrimSpace(ex.interp.Resolve(cfg.Recipient, ec.Tokens))
		if recipient == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "email notification requires a recipient")
		}
		if !strings.Contains(recipient, "@") {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid email recipient %q", recipient)
		}

		if ec.DryRun {
			return map[string]any{
				"dry_run":   true,
				"channel":   string(cfg.Channel),
				"recipient": recipient,
				"subject":   subject,
			}, nil
		}

		// No SMTP transport is configured; record the message in the log so
		// the notification is at least observable.
		logging.LogWith(ctx, ex.logger).Info("email notification",
			slog.String("recipient", recipient),
			slog.String("subject", subject),
			slog.String("body", body))
		return map[string]any{
			"channel":   string(cfg.Channel),
			"recipient": recipient,
			"subject":   subject,
			"delivery":  "logged",
		}, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown notification channel %q", cfg.Channel)
	}
}

// postJSON POSTs a JSON payload and treats any non-2xx status as a failure.
func (ex *Executor) postJSON(ctx context.Context, url string, headers map[string]string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExecution, "encode payload: %s", err.Error()).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExecution, "build request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ex.client.Do(req)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExecution, "post %s: %s", url, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, schema.NewErrorf(schema.ErrCodeExecution,
			"post %s returned status %d", url, resp.StatusCode)
	}
	return resp.StatusCode, nil
}
