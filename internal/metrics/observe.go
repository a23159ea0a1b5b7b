package metrics

import (
	"fmt"
	"time"

	"nanabot/internal/bus"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Observe subscribes c to the relay, resolver and ingress events on eb.
func Observe(eb *bus.EventBus, c *MetricsCollector) {
	eb.On(bus.EventRelayFinished, func(e bus.Event) {
		outcome, _ := e.Payload[bus.KeyOutcome].(string)
		reason, _ := e.Payload[bus.KeyReason].(string)
		c.Counter("nanabot_relay_total", "Relay pipeline runs by outcome",
			fmt.Sprintf("outcome=%q,reason=%q", outcome, reason)).Inc()

		if d, ok := e.Payload[bus.KeyLatency].(time.Duration); ok && outcome != "rejected" {
			c.Histogram("nanabot_relay_latency_seconds", "Relay latency for runs that reached the gateway", "",
				latencyBuckets).Observe(d.Seconds())
		}
	})

	eb.On(bus.EventHandleCreated, func(e bus.Event) {
		c.Counter("nanabot_webhooks_created_total", "Webhooks created by the relay", "").Inc()
	})

	eb.On(bus.EventHandleCached, func(e bus.Event) {
		if n, ok := e.Payload[bus.KeyCached].(int); ok {
			c.Gauge("nanabot_webhooks_cached", "Channels with a cached webhook", "").Set(int64(n))
		}
	})

	eb.On(bus.EventIngressHandled, func(e bus.Event) {
		outcome, _ := e.Payload[bus.KeyOutcome].(string)
		c.Counter("nanabot_ingress_total", "Log ingress requests by outcome",
			fmt.Sprintf("outcome=%q", outcome)).Inc()
	})
}
