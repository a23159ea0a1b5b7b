// Package relay turns messages in the target channel into placeholder text
// re-posted under the author's name: guard, transform, delete, resolve the
// channel webhook, deliver.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nanabot/internal/bus"
	"nanabot/internal/domain"
	"nanabot/internal/transform"

	"github.com/google/uuid"
)

const (
	DefaultSettleDelay = 250 * time.Millisecond
	DefaultCallTimeout = 10 * time.Second
)

// State is a step of a single pipeline run.
type State int

const (
	StateReceived State = iota
	StateGuarded
	StateTransformed
	StateDeleted
	StateResolved
	StateDelivered
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateGuarded:
		return "guarded"
	case StateTransformed:
		return "transformed"
	case StateDeleted:
		return "deleted"
	case StateResolved:
		return "resolved"
	case StateDelivered:
		return "delivered"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Abort reasons beyond the guard's.
const (
	ReasonEmpty         = "empty"
	ReasonDeleteFailed  = "delete_failed"
	ReasonResolveFailed = "resolve_failed"
	ReasonDeliverFailed = "deliver_failed"
	ReasonCancelled     = "cancelled"
)

// Outcomes reported on the event bus.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Result describes how one run ended.
type Result struct {
	RunID   string
	State   State // StateDelivered or StateAborted
	Reached State // last state completed before the run ended
	Reason  string
	Output  string // transformed text, once computed
	Err     error
}

// Delivered reports whether the transformed text was posted.
func (r Result) Delivered() bool { return r.State == StateDelivered }

// Outcome classifies the result for metrics and audit.
func (r Result) Outcome() string {
	switch {
	case r.State == StateDelivered:
		return OutcomeDelivered
	case r.Err != nil:
		return OutcomeFailed
	default:
		return OutcomeRejected
	}
}

// Pipeline relays events from one target route. Safe for concurrent use.
type Pipeline struct {
	gw          domain.ChatGateway
	resolver    *Resolver
	rules       *transform.RuleSet
	route       domain.Route
	settle      time.Duration
	callTimeout time.Duration
	events      *bus.EventBus
	logger      *slog.Logger
}

// Config configures a Pipeline.
type Config struct {
	Gateway     domain.ChatGateway
	Resolver    *Resolver // default: a Resolver over Gateway with DefaultPersona
	Rules       *transform.RuleSet
	Route       domain.Route
	SettleDelay time.Duration // pause between delete and repost; zero disables
	CallTimeout time.Duration // per external call; default DefaultCallTimeout
	Events      *bus.EventBus
	Logger      *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rules == nil {
		cfg.Rules = transform.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver(ResolverConfig{
			API:     cfg.Gateway,
			Timeout: cfg.CallTimeout,
			Events:  cfg.Events,
			Logger:  cfg.Logger,
		})
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Pipeline{
		gw:          cfg.Gateway,
		resolver:    cfg.Resolver,
		rules:       cfg.Rules,
		route:       cfg.Route,
		settle:      cfg.SettleDelay,
		callTimeout: cfg.CallTimeout,
		events:      cfg.Events,
		logger:      cfg.Logger.With("component", "relay"),
	}
}

// Route returns the target route.
func (p *Pipeline) Route() domain.Route { return p.route }

// Handle runs ev through the pipeline once. Failures are contained to this
// event and reported in the Result; nothing is retried.
func (p *Pipeline) Handle(ctx context.Context, ev domain.InboundEvent) Result {
	start := time.Now()
	res := p.run(ctx, ev)
	p.finish(ev, res, time.Since(start))
	return res
}

func (p *Pipeline) run(ctx context.Context, ev domain.InboundEvent) Result {
	res := Result{RunID: uuid.NewString(), Reached: StateReceived}
	abort := func(reason string, err error) Result {
		res.State = StateAborted
		res.Reason = reason
		res.Err = err
		return res
	}

	if v := Check(ev, p.gw.SelfID(), p.route); !v.Pass {
		return abort(v.Reason, nil)
	}
	res.Reached = StateGuarded

	// An empty message cannot be posted, so it is left alone entirely.
	if strings.TrimSpace(ev.Text) == "" {
		return abort(ReasonEmpty, nil)
	}
	res.Output = p.rules.Transform(ev.Text)
	res.Reached = StateTransformed

	// The original must be gone before anything is posted: a failed delete
	// ends the run so no duplicate appears.
	if err := p.call(ctx, func(ctx context.Context) error {
		return p.gw.DeleteMessage(ctx, ev.ChannelID, ev.MessageID)
	}); err != nil {
		return abort(ReasonDeleteFailed, fmt.Errorf("delete original: %w", err))
	}
	res.Reached = StateDeleted

	if p.settle > 0 {
		t := time.NewTimer(p.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return abort(ReasonCancelled, ctx.Err())
		case <-t.C:
		}
	}

	var handle domain.DeliveryHandle
	if err := p.call(ctx, func(ctx context.Context) error {
		var err error
		handle, err = p.resolver.Resolve(ctx, ev.ChannelID)
		return err
	}); err != nil {
		return abort(ReasonResolveFailed, fmt.Errorf("resolve handle: %w", err))
	}
	res.Reached = StateResolved

	if err := p.call(ctx, func(ctx context.Context) error {
		return p.resolver.DeliverAs(ctx, handle, res.Output, ev.Author)
	}); err != nil {
		return abort(ReasonDeliverFailed, fmt.Errorf("deliver: %w", err))
	}
	res.Reached = StateDelivered
	res.State = StateDelivered
	return res
}

func (p *Pipeline) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return fn(ctx)
}

func (p *Pipeline) finish(ev domain.InboundEvent, res Result, elapsed time.Duration) {
	log := p.logger.With(
		"run_id", res.RunID,
		"channel_id", ev.ChannelID,
		"message_id", ev.MessageID,
		"author_id", ev.AuthorID,
	)
	switch res.Outcome() {
	case OutcomeDelivered:
		log.Info("relayed message", "author", ev.Author.Name, "content_len", len(res.Output), "took", elapsed)
	case OutcomeFailed:
		log.Error("relay aborted", "reason", res.Reason, "reached", res.Reached, "err", res.Err)
	default:
		log.Debug("relay skipped", "reason", res.Reason)
	}

	payload := map[string]any{
		bus.KeyRunID:     res.RunID,
		bus.KeyState:     res.State.String(),
		bus.KeyOutcome:   res.Outcome(),
		bus.KeyReason:    res.Reason,
		bus.KeyChannelID: ev.ChannelID,
		bus.KeyAuthorID:  ev.AuthorID,
		bus.KeyMessageID: ev.MessageID,
		bus.KeyLatency:   elapsed,
	}
	if res.Err != nil {
		payload[bus.KeyError] = res.Err.Error()
	}
	p.events.Emit(bus.Event{Type: bus.EventRelayFinished, Source: "relay", Payload: payload})
}
