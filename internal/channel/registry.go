package channel

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

// Registry is the lookup table from channel value to implementation. It is
// filled at startup and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	channels  map[models.Channel]Channel
	closeOnce sync.Once
	closeErr  error
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[models.Channel]Channel)}
}

func (r *Registry) Register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[ch.Type()]; exists {
		return fmt.Errorf("channel %s already registered", ch.Type())
	}
	r.channels[ch.Type()] = ch
	return nil
}

func (r *Registry) Get(c models.Channel) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[c]
	return ch, ok
}

// Resolve maps a raw channel value to a registered channel. Values outside the
// channel enum are UNKNOWN_CHANNEL; known but unregistered values are
// CHANNEL_DISABLED.
func (r *Registry) Resolve(raw string) (Channel, error) {
	c, ok := models.ParseChannel(raw)
	if !ok {
		return nil, errors.NewUnknownChannelError(raw)
	}
	ch, ok := r.Get(c)
	if !ok {
		return nil, errors.NewChannelDisabledError(raw)
	}
	return ch, nil
}

// All returns the registered channels in enum order.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.channels))
	for _, c := range models.AllChannels {
		if ch, ok := r.channels[c]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, ch := range r.All() {
		if err := ch.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s channel: %w", ch.Type(), err)
		}
	}
	return nil
}

// CloseAll closes every channel exactly once, however often it is called.
func (r *Registry) CloseAll() error {
	r.closeOnce.Do(func() {
		var errs []error
		for _, ch := range r.All() {
			if err := ch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s channel: %w", ch.Type(), err))
			}
		}
		r.closeErr = stderrors.Join(errs...)
	})
	return r.closeErr
}
