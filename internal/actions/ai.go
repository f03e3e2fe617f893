package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/logging"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

const defaultMaxTokens = 1024

// generateWithAI sends an interpolated prompt to the text-generation
// service and parses the response per output type. Classification snaps
// the raw response onto one of the configured choices; JSON output strips
// code fences and must parse.
func (ex *Executor) generateWithAI(ctx context.Context, cfg *schema.GenerateWithAIAction, ec *ExecContext) (map[string]any, error) {
	if strings.TrimSpace(cfg.Prompt) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "generate_with_ai requires a prompt")
	}

	outputType := cfg.OutputType
	if outputType == "" {
		outputType = schema.AIOutputText
	}
	if outputType == schema.AIOutputClassification && len(cfg.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "classification output requires choices")
	}

	prompt := ex.interp.Resolve(cfg.Prompt, ec.Tokens)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if ec.DryRun {
		return map[string]any{
			"dry_run":     true,
			"output_type": string(outputType),
			"prompt":      prompt,
			"max_tokens":  maxTokens,
		}, nil
	}

	if ex.ai == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no text generator configured")
	}

	raw, err := ex.ai.Generate(ctx, systemPromptFor(outputType, cfg.Choices), prompt, maxTokens)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "generate: %s", err.Error()).WithCause(err)
	}
	raw = strings.TrimSpace(raw)

	switch outputType {
	case schema.AIOutputClassification:
		choice := classify(raw, cfg.Choices)
		if choice == "" {
			choice = cfg.Choices[0]
			logging.LogWith(ctx, ex.logger).Warn("classification response matched no choice, using first",
				slog.String("response", raw))
		}
		return map[string]any{
			"output_type": string(outputType),
			"output":      choice,
			"raw":         raw,
		}, nil

	case schema.AIOutputJSON:
		cleaned := stripCodeFences(raw)
		var parsed any
		if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"response is not valid JSON: %s", err.Error()).WithCause(err)
		}
		return map[string]any{
			"output_type": string(outputType),
			"output":      parsed,
		}, nil

	default:
		return map[string]any{
			"output_type": string(schema.AIOutputText),
			"output":      raw,
		}, nil
	}
}

func systemPromptFor(outputType schema.AIOutputType, choices []string) string {
	switch outputType {
	case schema.AIOutputClassification:
		return "You are a classifier. Respond with exactly one of the following labels and nothing else: " +
			strings.Join(choices, ", ")
	case schema.AIOutputJSON:
		return "Respond with a single valid JSON document and nothing else. No prose, no code fences."
	default:
		return "You are a concise assistant for a data catalog. Respond with plain text only."
	}
}

// classify matches a response to a choice: exact match first, then the
// first choice contained in the response. Returns "" when nothing matches.
func classify(response string, choices []string) string {
	normalized := strings.ToLower(strings.TrimSpace(response))
	for _, c := range choices {
		if normalized == strings.ToLower(strings.TrimSpace(c)) {
			return c
		}
	}
	for _, c := range choices {
		if strings.Contains(normalized, strings.ToLower(strings.TrimSpace(c))) {
			return c
		}
	}
	return ""
}

// stripCodeFences removes a surrounding markdown code fence, if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
