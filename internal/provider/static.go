package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo-go/internal/vecmath"
)

// defaultStaticDimension is the embedding width the static provider emits
// when the config does not set one. Small on purpose: tests that only care
// about behavior should not pay for 384-wide vectors.
const defaultStaticDimension = 32

// StaticConfig configures a StaticProvider test double.
type StaticConfig struct {
	// Name is the registry identity. Defaults to "static".
	Name string
	// Capabilities defaults to chat+embed when zero.
	Capabilities Capability
	// Dimension is the embedding width. Defaults to defaultStaticDimension.
	Dimension int
	// Responses maps exact chat messages to canned replies.
	Responses map[string]string
	// Embeddings maps exact input text to pre-programmed vectors, bypassing
	// the deterministic hash derivation.
	Embeddings map[string][]float32
	// Delay is an artificial latency applied to Chat and Embed, for
	// timing-sensitive tests. Honors context cancellation.
	Delay time.Duration
	// InitErr, ChatErr, and EmbedErr inject failures into the respective
	// operations.
	InitErr  error
	ChatErr  error
	EmbedErr error
	// Health, when set, is returned by every health probe instead of the
	// state-derived snapshot.
	Health *Snapshot
	// HealthTTL overrides the snapshot freshness window.
	HealthTTL time.Duration
}

// StaticProvider is a deterministic in-memory Provider used in CI: scripted
// responses and embeddings keyed by exact input, a stable hash-derived
// fallback embedding for unscripted text, injectable latency and failures.
// It never touches a real backend.
type StaticProvider struct {
	*Base
	cfg StaticConfig
}

// NewStaticProvider constructs a StaticProvider from cfg, applying defaults.
func NewStaticProvider(cfg StaticConfig) *StaticProvider {
	if cfg.Name == "" {
		cfg.Name = "static"
	}
	if cfg.Capabilities == 0 {
		cfg.Capabilities = CapabilityChat | CapabilityEmbed
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultStaticDimension
	}
	return &StaticProvider{
		Base: NewBase(cfg.Name, cfg.Capabilities, cfg.HealthTTL),
		cfg:  cfg,
	}
}

// Initialize moves the provider to ready, or to error when InitErr is set.
func (p *StaticProvider) Initialize(ctx context.Context) error {
	already, err := p.beginInitialize()
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	if p.cfg.InitErr != nil {
		p.finishInitialize(p.cfg.InitErr)
		return &InitializationError{Provider: p.Name(), Err: p.cfg.InitErr}
	}
	p.finishInitialize(nil)
	return nil
}

// Dispose is an idempotent no-op beyond the state transition: the double
// holds no real resources.
func (p *StaticProvider) Dispose(_ context.Context) error {
	p.beginDispose()
	return nil
}

// Chat returns the scripted reply for message, or an echo when unscripted.
func (p *StaticProvider) Chat(ctx context.Context, message string, _ []string) (string, error) {
	if err := p.requireReady(CapabilityChat); err != nil {
		return "", err
	}
	if err := p.sleep(ctx); err != nil {
		return "", err
	}
	if p.cfg.ChatErr != nil {
		return "", &BackendError{Provider: p.Name(), Op: "chat", Err: p.cfg.ChatErr}
	}
	if reply, ok := p.cfg.Responses[message]; ok {
		return reply, nil
	}
	return "static: " + message, nil
}

// Embed returns the scripted vector for text when one is programmed,
// otherwise a deterministic normalized vector derived from the text's hash.
// Identical text always yields a bit-identical vector.
func (p *StaticProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.requireReady(CapabilityEmbed); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	if p.cfg.EmbedErr != nil {
		return nil, &BackendError{Provider: p.Name(), Op: "embed", Err: p.cfg.EmbedErr}
	}
	if vec, ok := p.cfg.Embeddings[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return hashEmbedding(text, p.cfg.Dimension), nil
}

// HealthCheck reports the forced snapshot when configured, else a snapshot
// derived from lifecycle state. The double is considered ready before
// Initialize so registry scans can select it.
func (p *StaticProvider) HealthCheck(ctx context.Context) Snapshot {
	return p.cachedHealth(ctx, func(context.Context) Snapshot {
		if p.cfg.Health != nil {
			snap := *p.cfg.Health
			snap.CheckedAt = time.Now()
			return snap
		}
		if snap, ok := p.stateSnapshot(); ok {
			return snap
		}
		return Snapshot{Status: StatusReady, CheckedAt: time.Now()}
	})
}

// sleep applies the configured artificial delay, aborting on ctx.
func (p *StaticProvider) sleep(ctx context.Context) error {
	if p.cfg.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.cfg.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hashEmbedding expands a SHA-256 over text into an L2-normalized vector of
// the requested dimension. Purely a function of its inputs.
func hashEmbedding(text string, dim int) []float32 {
	vec := make([]float32, dim)
	var counter [8]byte
	sum := sha256.Sum256([]byte(text))

	i := 0
	for i < dim {
		for j := 0; j+4 <= len(sum) && i < dim; j += 4 {
			bits := binary.LittleEndian.Uint32(sum[j : j+4])
			// Map to [-1, 1).
			vec[i] = float32(int32(bits)) / float32(1<<31)
			i++
		}
		binary.LittleEndian.PutUint64(counter[:], uint64(i))
		sum = sha256.Sum256(append(sum[:], counter[:]...))
	}

	vecmath.Normalize(vec)
	return vec
}
