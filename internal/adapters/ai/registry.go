package ai

import (
	"context"
	"strings"
	"sync"

	"finanalyst/pkg/errors"
)

// ProviderRegistry maps provider names to the backends built from config.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
	}
}

// Register fails with ErrAlreadyExists on a duplicate name.
func (r *ProviderRegistry) Register(provider Provider) error {
	if provider == nil {
		return errors.Wrap(errors.ErrInvalidInput, "provider is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return errors.Wrapf(errors.ErrAlreadyExists, "provider %s", name)
	}

	r.providers[name] = provider
	return nil
}

// Get returns the provider by name.
func (r *ProviderRegistry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[NormalizeProviderName(name)]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "provider %s", name)
	}

	return provider, nil
}

// GetChat returns a provider that can run chat completions.
func (r *ProviderRegistry) GetChat(name string) (ChatProvider, error) {
	provider, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	chat, ok := provider.(ChatProvider)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotImplemented, "provider %s does not support chat", name)
	}
	return chat, nil
}

func (r *ProviderRegistry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}

	return providers
}

// ListModels returns the priced models of every provider, keyed by name.
func (r *ProviderRegistry) ListModels(ctx context.Context) (map[string][]ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]ModelInfo, len(r.providers))
	for name, provider := range r.providers {
		models, err := provider.ListModels(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list models for provider %s", name)
		}
		result[name] = models
	}

	return result, nil
}

// ResolveRef resolves a "provider/model" reference such as
// "groq/llama-3.3-70b-versatile" to a chat provider and model metadata.
// A bare model name is looked up on defaultProvider. Models missing from the
// catalog are still usable; their pricing is reported as zero.
func (r *ProviderRegistry) ResolveRef(ctx context.Context, ref string, defaultProvider string) (ChatProvider, ModelInfo, error) {
	providerName, model := ParseModelRef(ref, defaultProvider)
	if model == "" {
		return nil, ModelInfo{}, errors.Wrapf(errors.ErrInvalidInput, "empty model reference %q", ref)
	}

	chat, err := r.GetChat(providerName)
	if err != nil {
		return nil, ModelInfo{}, err
	}

	info, err := chat.GetModel(ctx, model)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, ModelInfo{}, err
		}
		info = ModelInfo{Provider: ProviderName(chat.Name()), Name: model}
	}

	return chat, info, nil
}

// ParseModelRef splits "provider/model". The provider part is only honoured
// when it names a known provider, so model ids containing slashes survive.
func ParseModelRef(ref string, defaultProvider string) (provider string, model string) {
	ref = strings.TrimSpace(ref)
	if head, tail, ok := strings.Cut(ref, "/"); ok && ProviderName(NormalizeProviderName(head)).IsValid() {
		return NormalizeProviderName(head), tail
	}
	return NormalizeProviderName(defaultProvider), ref
}
