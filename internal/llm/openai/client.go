package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/joseph-ayodele/infoburn/internal/llm"
)

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract implements llm.Extractor over chat/completions in JSON mode.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (any, error) {
	start := time.Now()
	log := c.logger.With("case_id", req.CaseID, "schema", req.Schema.String(), "attempt", req.Attempt)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &llm.TransportError{Op: "rate limit wait", Err: err}
	}

	log.Info("llm.extract.start",
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"hints", len(req.Hints),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req)},
			{"role": "user", "content": llm.BuildUserPrompt(req)},
		},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		log.Error("llm.extract.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	var cc chatCompletion
	if err := json.Unmarshal(raw, &cc); err != nil {
		log.Error("llm.extract.decode_error", "error", err, "raw_bytes", len(raw))
		return nil, &llm.TransportError{Op: "decode completion", Err: err}
	}
	if len(cc.Choices) == 0 {
		log.Error("llm.extract.no_choices", "raw_bytes", len(raw))
		return nil, &llm.TransportError{Op: "decode completion", Err: errors.New("no choices in response")}
	}

	tree, err := llm.ParseContent(cc.Choices[0].Message.Content)
	if err != nil {
		log.Warn("llm.extract.bad_content", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	log.Info("llm.extract.ok", "elapsed_ms", time.Since(start).Milliseconds())
	return tree, nil
}
