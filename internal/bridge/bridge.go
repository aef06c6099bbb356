// Package bridge implements the action/notification bridge (C10):
// persisting committed actions, publishing notifications on a shared
// pub/sub channel, and fanning out to delivery channels. The pub/sub
// role separation and "never torn down" invariant are grounded on the
// teacher's store/redis.go single shared *redis.Client; the socket
// channel is grounded on the teacher's ws_hub.go connection registry.
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/itskum47/ruleforge/internal/incident"
	"github.com/itskum47/ruleforge/internal/metrics"
	"github.com/itskum47/ruleforge/internal/model"
	"github.com/itskum47/ruleforge/internal/store"
	"github.com/itskum47/ruleforge/internal/timeline"
)

const notificationChannel = "notifications:device-state-change"

var highSeverityStates = map[string]struct{}{
	"error": {}, "fault": {}, "alarm": {}, "emergency": {}, "critical": {},
}

// Notification is the envelope published on the shared channel (§4.10).
type Notification struct {
	Type        string      `json:"type"`
	Title       string      `json:"title"`
	Message     string      `json:"message"`
	Severity    string      `json:"severity"`
	Protocols   []string    `json:"protocols"`
	PublishedAt time.Time   `json:"publishedAt"`
	Metadata    interface{} `json:"metadata,omitempty"`
}

// Channel is one delivery channel's pure send function. Failures must
// not propagate to sibling channels or the bridge itself.
type Channel func(ctx context.Context, n Notification) error

// Bridge persists committed actions and fans a notification out to
// every registered delivery channel.
type Bridge struct {
	client    *redis.Client // shared connection; never closed by Bridge
	store     store.StateStore
	timeline  *timeline.Store
	incidents *incident.Store
	channels  map[string]Channel
}

func New(client *redis.Client, st store.StateStore, tl *timeline.Store, incidents *incident.Store) *Bridge {
	b := &Bridge{client: client, store: st, timeline: tl, incidents: incidents, channels: make(map[string]Channel)}
	b.RegisterChannel("mqtt", stubChannel("mqtt"))
	b.RegisterChannel("coap", stubChannel("coap"))
	b.RegisterChannel("email", stubChannel("email"))
	b.RegisterChannel("sms", stubChannel("sms"))
	return b
}

// RegisterChannel installs or replaces a delivery channel by name.
// The socket channel is registered by the caller with a live
// *SocketHub, since it needs a connection registry this package
// doesn't own.
func (b *Bridge) RegisterChannel(name string, ch Channel) {
	b.channels[name] = ch
}

// Apply persists every action C7 produced and publishes one
// notification per action.
func (b *Bridge) Apply(ctx context.Context, jobID string, ruleChainID string, actions []model.ActionCommand) {
	for _, action := range actions {
		var previous interface{}
		if last, err := b.store.GetLastDeviceState(ctx, action.DeviceUUID, action.StateName); err != nil {
			log.Printf("bridge: failed to read prior state for %s/%s: %v", action.DeviceUUID, action.StateName, err)
		} else if last != nil {
			previous = last.Value
		}

		inst := store.DeviceStateInstance{
			DeviceUUID:  action.DeviceUUID,
			StateName:   action.StateName,
			Value:       action.Value,
			InitiatedBy: "rule_chain",
			AppliedAt:   time.Now(),
		}
		if err := b.store.InsertDeviceStateInstance(ctx, inst); err != nil {
			log.Printf("bridge: failed to persist device state instance for %s: %v", action.DeviceUUID, err)
			metrics.DeviceStateChangesTotal.WithLabelValues(action.StateName, "error").Inc()
			continue
		}
		metrics.DeviceStateChangesTotal.WithLabelValues(action.StateName, "success").Inc()

		n := Notification{
			Type:        "device-state-change",
			Title:       action.StateName + " changed",
			Message:     action.DeviceUUID + " -> " + action.StateName,
			Severity:    severity(action, previous),
			Protocols:   []string{"socket", "mqtt", "coap"},
			PublishedAt: time.Now(),
			Metadata:    action,
		}
		b.publish(ctx, n)
		b.deliver(ctx, n)

		if n.Severity == "high" {
			b.timeline.Record(timeline.Event{
				JobID:       jobID,
				RuleChainID: ruleChainID,
				Stage:       timeline.StageFinished,
				Reason:      "high-severity notification: " + n.Title,
			})
			if b.incidents != nil {
				b.incidents.Capture(b.timeline, jobID, ruleChainID, action.DeviceUUID, action.StateName, n.Severity, n.Message)
			}
		}
	}
}

// severity computes priority per §4.10: high when device metadata
// marks the target critical, the state name matches a known critical
// term, or the change from the previous applied value is significant
// (crosses a null/boolean boundary, or a numeric delta exceeds 50%).
func severity(action model.ActionCommand, previous interface{}) string {
	if action.Critical {
		return "high"
	}
	if _, critical := highSeverityStates[strings.ToLower(action.StateName)]; critical {
		return "high"
	}
	if isSignificantChange(previous, action.Value) {
		return "high"
	}
	return "normal"
}

// isSignificantChange reports whether value differs from previous
// enough to warrant high-priority delivery: a transition to/from null,
// a transition to/from a boolean (or a differing boolean value), or a
// numeric delta exceeding 50% of the previous value.
func isSignificantChange(previous, value interface{}) bool {
	if value == nil || previous == nil {
		return value != previous
	}
	_, prevIsBool := previous.(bool)
	_, valIsBool := value.(bool)
	if prevIsBool || valIsBool {
		return previous != value // crossing the boolean boundary, or a flipped boolean
	}

	vf, vNumeric := asFloat(value)
	pf, pNumeric := asFloat(previous)
	if !vNumeric || !pNumeric {
		return false
	}
	if pf == 0 {
		return vf != 0
	}
	delta := (vf - pf) / pf
	if delta < 0 {
		delta = -delta
	}
	return delta > 0.5
}

// asFloat coerces a raw action value (string or numeric) to a float64
// for delta comparison; non-numeric values report ok=false.
func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func (b *Bridge) publish(ctx context.Context, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("bridge: failed to marshal notification: %v", err)
		return
	}
	if err := b.client.Publish(ctx, notificationChannel, payload).Err(); err != nil {
		log.Printf("bridge: publish failed: %v", err)
	}
}

func (b *Bridge) deliver(ctx context.Context, n Notification) {
	for name, ch := range b.channels {
		if err := ch(ctx, n); err != nil {
			log.Printf("bridge: channel %s delivery failed: %v", name, err)
			metrics.NotificationsSentTotal.WithLabelValues(name, "error").Inc()
			continue
		}
		metrics.NotificationsSentTotal.WithLabelValues(name, "success").Inc()
	}
}

// stubChannel builds a Channel for an external delivery system that
// is out of scope (§1 Non-goals): it logs and reports success so
// fan-out and per-channel isolation remain exercised and testable
// without a live mqtt/coap/email/sms integration.
func stubChannel(name string) Channel {
	return func(ctx context.Context, n Notification) error {
		log.Printf("bridge: [%s] would deliver %q (severity=%s)", name, n.Title, n.Severity)
		return nil
	}
}

// Subscribe starts a subscriber role on the shared connection,
// invoking handle for every notification received. Per §4.10, a
// process that subscribes must not also call Publish on the same
// role — callers route reads and writes through separate Bridge/
// Subscriber instances sharing one *redis.Client.
func Subscribe(ctx context.Context, client *redis.Client, handle func(Notification)) {
	sub := client.Subscribe(ctx, notificationChannel)
	ch := sub.Channel()
	go func() {
		defer sub.Close() // closes the subscription, not the shared connection
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					log.Printf("bridge: subscriber failed to decode notification: %v", err)
					continue
				}
				handle(n)
			}
		}
	}()
}
