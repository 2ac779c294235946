// Chitra - local-first personal assistant
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaAPIBase = "http://localhost:11434"
	defaultOllamaModel   = "llama3.1:8b"
)

// OllamaProvider talks to an Ollama-compatible /api/generate endpoint.
type OllamaProvider struct {
	apiBase      string
	defaultModel string
	httpClient   *http.Client
}

func NewOllamaProvider(apiBase, model string, timeout time.Duration) *OllamaProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = defaultOllamaAPIBase
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		apiBase:      apiBase,
		defaultModel: model,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}

	requestBody := map[string]interface{}{
		"model":  model,
		"prompt": req.Prompt,
		"stream": false,
	}
	if len(req.Options) > 0 {
		requestBody["options"] = req.Options
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %s", augmentProviderError(ProviderOllama, err.Error()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Ollama API request failed:\n  Status: %d\n  Body:   %s",
			resp.StatusCode, augmentProviderError(ProviderOllama, string(body)))
	}

	var apiResponse struct {
		Model    string `json:"model"`
		Response string `json:"response"`
		Done     bool   `json:"done"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResponse.Error != "" {
		return nil, fmt.Errorf("Ollama error: %s", augmentProviderError(ProviderOllama, apiResponse.Error))
	}

	return &GenerateResponse{
		Text:       apiResponse.Response,
		Model:      apiResponse.Model,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func (p *OllamaProvider) GetDefaultModel() string {
	return p.defaultModel
}
