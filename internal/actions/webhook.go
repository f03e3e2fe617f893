package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/logging"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// executeWebhook calls an arbitrary HTTP endpoint. A body is only attached
// for POST, PUT and PATCH. With retry_on_failure, failed attempts back off
// 2^attempt seconds before the next try; exhausting the budget returns a
// retry-exhausted error carrying the last failure.
func (ex *Executor) executeWebhook(ctx context.Context, cfg *schema.ExecuteWebhookAction, ec *ExecContext) (map[string]any, error) {
	if cfg.URL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "execute_webhook requires a url")
	}

	url := ex.interp.Resolve(cfg.URL, ec.Tokens)
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = ex.interp.Resolve(v, ec.Tokens)
	}

	var bodyBytes []byte
	hasBody := methodTakesBody(method) && cfg.Body != nil
	if hasBody {
		resolved := ex.interp.ResolveDeep(cfg.Body, ec.Tokens)
		encoded, err := json.Marshal(resolved)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "encode webhook body: %s", err.Error()).WithCause(err)
		}
		bodyBytes = encoded
	}

	attempts := 1
	if cfg.RetryOnFailure {
		attempts = cfg.MaxRetries
		if attempts <= 0 {
			attempts = DefaultWebhookRetries
		}
	}

	if ec.DryRun {
		return map[string]any{
			"dry_run":      true,
			"url":          url,
			"method":       method,
			"has_body":     hasBody,
			"max_attempts": attempts,
		}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		status, respBody, err := ex.doWebhook(ctx, method, url, headers, bodyBytes)
		if err == nil {
			return map[string]any{
				"url":         url,
				"method":      method,
				"status_code": status,
				"attempts":    attempt,
				"response":    respBody,
			}, nil
		}
		lastErr = err

		if attempt < attempts {
			logging.LogWith(ctx, ex.logger).Warn("webhook attempt failed, retrying",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			if werr := ex.sleep(ctx, WebhookBackoff(attempt)); werr != nil {
				return nil, schema.NewError(schema.ErrCodeExecution, "webhook retry cancelled").WithCause(werr)
			}
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"webhook failed after %d attempts: %s", attempts, lastErr.Error()).WithCause(lastErr)
}

func (ex *Executor) doWebhook(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, schema.NewErrorf(schema.ErrCodeExecution, "build request: %s", err.Error()).WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ex.client.Do(req)
	if err != nil {
		return 0, nil, schema.NewErrorf(schema.ErrCodeExecution, "%s %s: %s", method, url, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil, schema.NewErrorf(schema.ErrCodeExecution,
			"%s %s returned status %d", method, url, resp.StatusCode)
	}

	var parsed any
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) == nil {
		return resp.StatusCode, parsed, nil
	}
	if len(raw) > 0 {
		return resp.StatusCode, string(raw), nil
	}
	return resp.StatusCode, nil, nil
}

func methodTakesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
