package provider

import (
	"fmt"
	"sync"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
)

// Registry resolves the provider for a channel.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.Channel]ChannelProvider
}

func NewRegistry(providers ...ChannelProvider) *Registry {
	r := &Registry{providers: make(map[domain.Channel]ChannelProvider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p ChannelProvider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Channel()] = p
}

// Resolve returns the provider for channel or a ProviderError when none is configured.
func (r *Registry) Resolve(channel domain.Channel) (ChannelProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("provider registry is not initialized")
	}

	r.mu.RLock()
	p, ok := r.providers[channel]
	r.mu.RUnlock()
	if !ok {
		return nil, &ProviderError{
			Channel: channel,
			Message: fmt.Sprintf("no provider configured for channel %s", channel),
		}
	}
	return p, nil
}

func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]domain.Channel, 0, len(r.providers))
	for _, ch := range domain.Channels() {
		if _, ok := r.providers[ch]; ok {
			channels = append(channels, ch)
		}
	}
	return channels
}
