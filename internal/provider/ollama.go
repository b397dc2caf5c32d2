package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mnemo-ai/mnemo-go/internal/progress"
)

// Default Ollama settings. The runtime ships with the host environment and
// listens on localhost; no API key is involved.
const (
	defaultOllamaHost       = "http://localhost:11434"
	defaultOllamaChatModel  = "llama3"
	defaultOllamaEmbedModel = "nomic-embed-text"
)

// OllamaConfig holds the settings for constructing an OllamaProvider.
type OllamaConfig struct {
	// Host is the Ollama base URL (e.g. "http://localhost:11434").
	Host string
	// ChatModel is the chat model name. Ignored unless chat is declared.
	ChatModel string
	// EmbedModel is the embedding model name.
	EmbedModel string
	// Capabilities defaults to chat+embed when zero.
	Capabilities Capability
	// AutoPull makes Initialize download a missing embed model via the
	// runtime's pull API, streaming progress to Tracker.
	AutoPull bool
	// Tracker receives download progress events. May be nil.
	Tracker *progress.Tracker
	// HealthTTL overrides the snapshot freshness window.
	HealthTTL time.Duration
}

// OllamaProvider adapts the on-device Ollama runtime to the Provider
// contract: chat goes through the eino Ollama chat model, embeddings through
// the /api/embed endpoint, health through /api/tags.
type OllamaProvider struct {
	*Base
	cfg    OllamaConfig
	client *http.Client

	// chat is created during Initialize and nilled on Dispose.
	chat model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
}

// NewOllamaProvider constructs an OllamaProvider from cfg, applying defaults.
// The provider starts uninitialized; call Initialize (usually via the
// Registry) before Chat or Embed.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = defaultOllamaHost
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultOllamaChatModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultOllamaEmbedModel
	}
	if cfg.Capabilities == 0 {
		cfg.Capabilities = CapabilityChat | CapabilityEmbed
	}
	return &OllamaProvider{
		Base:   NewBase("ollama", cfg.Capabilities, cfg.HealthTTL),
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Initialize verifies the runtime is reachable, pulls a missing embed model
// when AutoPull is set, and constructs the chat model handle. On failure the
// provider lands in StateError with an *InitializationError.
func (p *OllamaProvider) Initialize(ctx context.Context) error {
	already, err := p.beginInitialize()
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	if err := p.initialize(ctx); err != nil {
		p.finishInitialize(err)
		return &InitializationError{Provider: p.Name(), Err: err}
	}
	p.finishInitialize(nil)
	p.publish(progress.Event{Stage: "ready", Percent: 100, Done: true})
	return nil
}

func (p *OllamaProvider) initialize(ctx context.Context) error {
	installed, err := p.listModels(ctx)
	if err != nil {
		return fmt.Errorf("runtime unreachable at %s: %w", p.cfg.Host, err)
	}

	if p.Capabilities().Has(CapabilityEmbed) && !hasModel(installed, p.cfg.EmbedModel) {
		if !p.cfg.AutoPull {
			return fmt.Errorf("model %s not installed and auto-pull disabled", p.cfg.EmbedModel)
		}
		if err := p.pullModel(ctx, p.cfg.EmbedModel); err != nil {
			return fmt.Errorf("pull %s: %w", p.cfg.EmbedModel, err)
		}
	}

	if p.Capabilities().Has(CapabilityChat) {
		chat, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
			BaseURL: p.cfg.Host,
			Model:   p.cfg.ChatModel,
		})
		if err != nil {
			return fmt.Errorf("chat model: %w", err)
		}
		p.chat = chat
	}
	return nil
}

// Dispose releases the chat handle and idle connections. Idempotent.
func (p *OllamaProvider) Dispose(_ context.Context) error {
	if !p.beginDispose() {
		return nil
	}
	p.chat = nil
	p.client.CloseIdleConnections()
	return nil
}

// Chat sends message to the chat model, grounding it on the optional context
// snippets via a system message.
func (p *OllamaProvider) Chat(ctx context.Context, message string, notes []string) (string, error) {
	if err := p.requireReady(CapabilityChat); err != nil {
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrInvalidInput
	}

	var msgs []*schema.Message
	if len(notes) > 0 {
		msgs = append(msgs, schema.SystemMessage(
			"Ground your answer on these notes:\n- "+strings.Join(notes, "\n- ")))
	}
	msgs = append(msgs, schema.UserMessage(message))

	resp, err := p.chat.Generate(ctx, msgs)
	if err != nil {
		return "", &BackendError{Provider: p.Name(), Op: "chat", Err: err}
	}
	if resp == nil {
		return "", &BackendError{Provider: p.Name(), Op: "chat", Err: fmt.Errorf("nil response")}
	}
	return resp.Content, nil
}

// ollamaEmbedRequest is the JSON body sent to /api/embed.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from /api/embed.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed converts text into an embedding vector via /api/embed.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.requireReady(CapabilityEmbed); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	payload, err := json.Marshal(ollamaEmbedRequest{
		Model: p.cfg.EmbedModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("provider ollama: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider ollama: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &BackendError{Provider: p.Name(), Op: "embed", Err: err}
	}
	defer resp.Body.Close()

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &BackendError{Provider: p.Name(), Op: "embed", Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, &BackendError{Provider: p.Name(), Op: "embed", Err: fmt.Errorf("%s", msg)}
	}
	if len(result.Embeddings) == 0 {
		return nil, &BackendError{Provider: p.Name(), Op: "embed", Err: fmt.Errorf("runtime returned no embeddings")}
	}
	return result.Embeddings[0], nil
}

// HealthCheck probes /api/tags. Reachable with the embed model installed is
// ready; reachable without it is needs-download; unreachable is unavailable.
// Lifecycle-derived states (disposed, initializing, error) short-circuit the
// network round-trip.
func (p *OllamaProvider) HealthCheck(ctx context.Context) Snapshot {
	return p.cachedHealth(ctx, func(ctx context.Context) Snapshot {
		if snap, ok := p.stateSnapshot(); ok {
			return snap
		}

		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		installed, err := p.listModels(probeCtx)
		now := time.Now()
		if err != nil {
			return Snapshot{
				Status:    StatusUnavailable,
				Message:   fmt.Sprintf("runtime unreachable at %s", p.cfg.Host),
				CheckedAt: now,
			}
		}
		if p.Capabilities().Has(CapabilityEmbed) && !hasModel(installed, p.cfg.EmbedModel) {
			return Snapshot{
				Status:    StatusNeedsDownload,
				Message:   fmt.Sprintf("model %s not installed", p.cfg.EmbedModel),
				CheckedAt: now,
			}
		}
		return Snapshot{Status: StatusReady, CheckedAt: now}
	})
}

// listModels fetches the installed model names from /api/tags.
func (p *OllamaProvider) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// ollamaPullLine is one NDJSON progress line streamed from /api/pull.
type ollamaPullLine struct {
	Status    string `json:"status"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error,omitempty"`
}

// pullModel downloads name through /api/pull, translating the streamed
// NDJSON progress into Tracker events.
func (p *OllamaProvider) pullModel(ctx context.Context, name string) error {
	payload, err := json.Marshal(map[string]any{"model": name, "stream": true})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Pulls run far longer than the regular client timeout allows.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull returned HTTP %d", resp.StatusCode)
	}

	p.publish(progress.Event{Stage: "download", Percent: 0, Message: name})

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lastPercent := -1
	for scanner.Scan() {
		var line ollamaPullLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // tolerate malformed keep-alive lines
		}
		if line.Error != "" {
			return fmt.Errorf("pull failed: %s", line.Error)
		}
		if line.Total > 0 {
			percent := int(line.Completed * 100 / line.Total)
			if percent != lastPercent {
				lastPercent = percent
				p.publish(progress.Event{Stage: "download", Percent: percent, Message: line.Status})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pull stream: %w", err)
	}

	p.publish(progress.Event{Stage: "download", Percent: 100, Message: "download complete"})
	return nil
}

// publish forwards ev to the tracker when one is configured.
func (p *OllamaProvider) publish(ev progress.Event) {
	if p.cfg.Tracker != nil {
		p.cfg.Tracker.Publish(ev)
	}
}

// hasModel reports whether name (with or without a tag suffix) is in
// installed. Ollama reports "nomic-embed-text:latest" for an untagged pull.
func hasModel(installed []string, name string) bool {
	for _, m := range installed {
		if m == name || strings.TrimSuffix(m, ":latest") == name {
			return true
		}
	}
	return false
}
