// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAssay/services/assay/telemetry"
)

// =============================================================================
// OLLAMA PROVIDER
// =============================================================================

// OllamaProvider analyzes failures through a local Ollama server's
// generate endpoint. This is the default: regression logs may contain
// unpublished results, so nothing leaves the machine unless the
// operator opts into a remote provider.
//
// Thread Safety: Safe for concurrent use.
type OllamaProvider struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
}

var _ Provider = (*OllamaProvider)(nil)

// Ollama API request structure.
type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

// NewOllamaProvider validates the endpoint and model selection.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	baseURL := cfg.Endpoint
	if baseURL == "" {
		return nil, fmt.Errorf("ollama endpoint not configured")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := cfg.Model
	if model == "" {
		model = "qwen2.5:14b"
		slog.Warn("no explain model configured, using default", slog.String("model", model))
	}

	return &OllamaProvider{
		// Local models on CPU can take minutes for a long analysis.
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		baseURL:     baseURL,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name identifies the provider for logging.
func (p *OllamaProvider) Name() string { return "ollama" }

// Explain sends one failure analysis request to /api/generate.
func (p *OllamaProvider) Explain(ctx context.Context, fc FailureContext) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "aleutian.assay.explain", "OllamaProvider.Explain")
	defer span.End()

	payload := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: systemPrompt + "\n\n" + BuildPrompt(fc),
		Stream: false,
		Options: map[string]interface{}{
			"temperature": p.temperature,
			"num_predict": p.maxTokens,
		},
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("failed to read response body from Ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(respBody, &errResp); err == nil && strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
				slog.Warn("Ollama model not found", slog.String("model", p.model))
				return "", fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", p.model, p.model)
			}
		}
		return "", fmt.Errorf("Ollama failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	telemetry.SetSpanOK(span)
	return ollamaResp.Response, nil
}
