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
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianAssay/services/assay/telemetry"
)

// =============================================================================
// OPENAI PROVIDER
// =============================================================================

// OpenAIProvider analyzes failures through the OpenAI chat completion
// API.
//
// Thread Safety: Safe for concurrent use.
type OpenAIProvider struct {
	key         *APIKey
	model       string
	maxTokens   int
	temperature float32
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider loads and seals the API key and validates the
// model selection.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	key, err := LoadAPIKey(cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("no explain model configured, using default", slog.String("model", model))
	}

	return &OpenAIProvider{
		key:         key,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name identifies the provider for logging.
func (p *OpenAIProvider) Name() string { return "openai" }

// Explain sends one failure analysis request.
//
// Description:
//
//	The key is opened from its enclave only for the duration of client
//	construction; the client copies it internally and the locked
//	buffer is wiped before the network call.
func (p *OpenAIProvider) Explain(ctx context.Context, fc FailureContext) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "aleutian.assay.explain", "OpenAIProvider.Explain")
	defer span.End()

	keyBuf, err := p.key.Open()
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("opening API key: %w", err)
	}
	client := openai.NewClient(keyBuf.String())
	keyBuf.Destroy()

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(fc)},
		},
		MaxCompletionTokens: p.maxTokens,
		Temperature:         p.temperature,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("OpenAI request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("OpenAI returned no choices")
		telemetry.RecordError(span, err)
		return "", err
	}

	telemetry.SetSpanOK(span)
	return resp.Choices[0].Message.Content, nil
}
