// Package llm implements the StructuredLLM contract (spec.md §6): any chat
// model that binds structured output to a schema and supports a fallback
// value on exception or timeout. The core never parses free-form JSON from
// strings; it delegates schema binding to the provider. No example repo in
// the retrieval pack ships an LLM provider SDK (prompt content and
// provider wire details are explicitly out of scope per spec.md §1), so
// the concrete provider here speaks the OpenAI-compatible JSON-mode REST
// contract directly over net/http — the smallest surface that satisfies
// "any OpenAI-compatible, Anthropic, or Ollama-proxied endpoint" without
// fabricating a fake third-party SDK behind the interface.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/helion-systems/helion/internal/domain"
)

// Message is one chat turn.
type Message struct {
	Role    string // system | user | assistant
	Content string
}

// StructuredLLM[T] is a chat model bound to structured output of type T.
// Invoke calls the model under timeout; WithFallback returns a copy whose
// Invoke substitutes the fallback value on any error or timeout rather
// than propagating it, so DecisionStage never has to special-case LLM
// failure at every call site.
type StructuredLLM[T any] interface {
	Invoke(ctx context.Context, messages []Message, timeout time.Duration) (T, error)
	WithFallback(fallback func() T) StructuredLLM[T]
}

// Provider is a configured connection to one LLM backend, able to bind a
// JSON schema and produce a StructuredLLM for any result type via the
// package-level Bind helper (Go generics can't be method type parameters).
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	log     zerolog.Logger
}

// NewProvider builds a Provider from an LLMConfig row. All three supported
// provider kinds (openai_compatible, anthropic, ollama) are reached
// through the same OpenAI-style chat-completions-with-json-schema request
// shape; BaseURL carries the provider-specific endpoint.
func NewProvider(cfg domain.LLMConfig, log zerolog.Logger) *Provider {
	return &Provider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 120 * time.Second},
		log:     log.With().Str("component", "llm").Str("provider", cfg.Provider).Logger(),
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []wireMessage `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string      `json:"name"`
	Schema interface{} `json:"schema"`
	Strict bool        `json:"strict"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

// boundLLM adapts a Provider to StructuredLLM[T] for one JSON schema and
// decode target.
type boundLLM[T any] struct {
	provider   *Provider
	schemaName string
	schema     interface{}
	fallback   func() T
}

// Bind constructs a StructuredLLM[T] against provider, using schemaName
// and schema as the JSON-schema response-format binding.
func Bind[T any](provider *Provider, schemaName string, schema interface{}) StructuredLLM[T] {
	return &boundLLM[T]{provider: provider, schemaName: schemaName, schema: schema}
}

func (b *boundLLM[T]) WithFallback(fallback func() T) StructuredLLM[T] {
	return &boundLLM[T]{provider: b.provider, schemaName: b.schemaName, schema: b.schema, fallback: fallback}
}

func (b *boundLLM[T]) Invoke(ctx context.Context, messages []Message, timeout time.Duration) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := b.invokeOnce(ctx, messages)
	if err != nil {
		b.provider.log.Warn().Err(err).Str("schema", b.schemaName).Msg("llm invoke failed")
		if b.fallback != nil {
			return b.fallback(), nil
		}
		return zero, err
	}
	return result, nil
}

func (b *boundLLM[T]) invokeOnce(ctx context.Context, messages []Message) (T, error) {
	var zero T

	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = wireMessage{Role: m.Role, Content: m.Content}
	}

	reqBody := chatRequest{
		Model:    b.provider.model,
		Messages: wire,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchema{
				Name:   b.schemaName,
				Schema: b.schema,
				Strict: true,
			},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return zero, fmt.Errorf("llm: failed to marshal request: %w", err)
	}

	url := b.provider.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return zero, fmt.Errorf("llm: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.provider.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.provider.apiKey)
	}

	resp, err := b.provider.client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("llm: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("llm: provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return zero, fmt.Errorf("llm: failed to parse response envelope: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return zero, fmt.Errorf("llm: provider returned no choices")
	}

	var out T
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &out); err != nil {
		return zero, fmt.Errorf("llm: failed to decode structured output: %w", err)
	}
	return out, nil
}
