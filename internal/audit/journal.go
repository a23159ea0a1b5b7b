package audit

import (
	"context"
	"time"

	"nanabot/internal/bus"
	"nanabot/internal/relay"
)

// Recorder is the write side of the journal.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// noise are guard reasons that fire for most traffic the bot can see,
// including its own reposts. They are not journaled.
var noise = map[string]bool{
	relay.ReasonSelf:         true,
	relay.ReasonImpersonated: true,
	relay.ReasonOtherChannel: true,
}

// Subscribe journals relay and ingress outcomes emitted on eb.
// Write errors go to onErr when it is non-nil.
func Subscribe(eb *bus.EventBus, rec Recorder, onErr func(error)) {
	eb.On(bus.EventRelayFinished, func(e bus.Event) {
		entry := entryFromEvent(KindRelay, e)
		if noise[entry.Reason] {
			return
		}
		write(rec, entry, onErr)
	})
	eb.On(bus.EventIngressHandled, func(e bus.Event) {
		write(rec, entryFromEvent(KindIngress, e), onErr)
	})
}

func write(rec Recorder, e Entry, onErr func(error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.Record(ctx, e); err != nil && onErr != nil {
		onErr(err)
	}
}

func entryFromEvent(kind string, e bus.Event) Entry {
	str := func(key string) string {
		s, _ := e.Payload[key].(string)
		return s
	}
	entry := Entry{
		Kind:      kind,
		RunID:     str(bus.KeyRunID),
		Outcome:   str(bus.KeyOutcome),
		Reason:    str(bus.KeyReason),
		ChannelID: str(bus.KeyChannelID),
		AuthorID:  str(bus.KeyAuthorID),
		MessageID: str(bus.KeyMessageID),
		Error:     str(bus.KeyError),
		CreatedAt: e.Timestamp.UTC(),
	}
	if d, ok := e.Payload[bus.KeyLatency].(time.Duration); ok {
		entry.LatencyMs = d.Milliseconds()
	}
	return entry
}
