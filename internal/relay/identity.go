package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nanabot/internal/bus"
	"nanabot/internal/domain"

	"golang.org/x/sync/singleflight"
)

// DefaultPersona is the webhook name the relay registers in each channel.
const DefaultPersona = "NanaWebhook"

// WebhookAPI is the part of the gateway the resolver needs.
type WebhookAPI interface {
	ListWebhooks(ctx context.Context, channelID string) ([]domain.DeliveryHandle, error)
	CreateWebhook(ctx context.Context, channelID, name string) (domain.DeliveryHandle, error)
	Send(ctx context.Context, h domain.DeliveryHandle, text string, as domain.DisplayIdentity) error
}

// Resolver hands out one webhook per channel, creating it on first use and
// reusing it for the life of the process.
type Resolver struct {
	api     WebhookAPI
	persona string
	timeout time.Duration
	events  *bus.EventBus
	logger  *slog.Logger

	mu      sync.RWMutex
	handles map[string]domain.DeliveryHandle
	group   singleflight.Group
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	API     WebhookAPI
	Persona string        // default: DefaultPersona
	Timeout time.Duration // bound on a shared lookup; default: DefaultCallTimeout
	Events  *bus.EventBus
	Logger  *slog.Logger
}

// NewResolver creates an empty Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		api:     cfg.API,
		persona: cfg.Persona,
		timeout: cfg.Timeout,
		events:  cfg.Events,
		logger:  cfg.Logger.With("component", "resolver"),
		handles: make(map[string]domain.DeliveryHandle),
	}
}

// Persona returns the webhook name used in every channel.
func (r *Resolver) Persona() string { return r.persona }

// Resolve returns the channel's webhook. Concurrent callers for the same
// channel share one lookup, so at most one webhook is created.
//
// The shared lookup runs detached from any single caller, bounded by the
// resolver timeout. A caller whose ctx ends stops waiting without failing
// the others.
func (r *Resolver) Resolve(ctx context.Context, channelID string) (domain.DeliveryHandle, error) {
	if h, ok := r.cached(channelID); ok {
		return h, nil
	}

	ch := r.group.DoChan(channelID, func() (any, error) {
		if h, ok := r.cached(channelID); ok {
			return h, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		h, err := r.lookupOrCreate(lctx, channelID)
		if err != nil {
			return domain.DeliveryHandle{}, err
		}
		r.mu.Lock()
		r.handles[channelID] = h
		n := len(r.handles)
		r.mu.Unlock()
		r.emitCached(channelID, n)
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.DeliveryHandle{}, res.Err
		}
		return res.Val.(domain.DeliveryHandle), nil
	case <-ctx.Done():
		return domain.DeliveryHandle{}, ctx.Err()
	}
}

// DeliverAs posts text through h under the given identity. When the platform
// reports the webhook gone, the cached entry is dropped so the next Resolve
// recreates it; the delivery itself is not retried.
func (r *Resolver) DeliverAs(ctx context.Context, h domain.DeliveryHandle, text string, as domain.DisplayIdentity) error {
	err := r.api.Send(ctx, h, text, as)
	if errors.Is(err, domain.ErrHandleGone) {
		r.Invalidate(h.ChannelID)
	}
	return err
}

// Invalidate forgets the cached handle for a channel.
func (r *Resolver) Invalidate(channelID string) {
	r.mu.Lock()
	_, ok := r.handles[channelID]
	delete(r.handles, channelID)
	n := len(r.handles)
	r.mu.Unlock()
	if ok {
		r.logger.Warn("delivery handle invalidated", "channel_id", channelID)
		r.emitCached(channelID, n)
	}
}

func (r *Resolver) emitCached(channelID string, n int) {
	r.events.Emit(bus.Event{
		Type:    bus.EventHandleCached,
		Source:  "resolver",
		Payload: map[string]any{bus.KeyChannelID: channelID, bus.KeyCached: n},
	})
}

// Cached returns the number of channels with a cached handle.
func (r *Resolver) Cached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (r *Resolver) cached(channelID string) (domain.DeliveryHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[channelID]
	return h, ok
}

func (r *Resolver) lookupOrCreate(ctx context.Context, channelID string) (domain.DeliveryHandle, error) {
	existing, err := r.api.ListWebhooks(ctx, channelID)
	if err != nil {
		return domain.DeliveryHandle{}, fmt.Errorf("list webhooks: %w", err)
	}
	for _, h := range existing {
		if h.Name == r.persona && h.Usable() {
			r.logger.Debug("reusing webhook", "channel_id", channelID, "webhook_id", h.ID)
			if h.ChannelID == "" {
				h.ChannelID = channelID
			}
			return h, nil
		}
	}

	h, err := r.api.CreateWebhook(ctx, channelID, r.persona)
	if err != nil {
		return domain.DeliveryHandle{}, fmt.Errorf("create webhook: %w", err)
	}
	if h.ChannelID == "" {
		h.ChannelID = channelID
	}
	r.logger.Info("webhook created", "channel_id", channelID, "webhook_id", h.ID, "persona", r.persona)
	r.events.Emit(bus.Event{
		Type:    bus.EventHandleCreated,
		Source:  "resolver",
		Payload: map[string]any{bus.KeyChannelID: channelID},
	})
	return h, nil
}
