//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"espnow-lamp/internal/node"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	Discovery   bool
}

// Lamp is the node surface the bridge reads and drives.
type Lamp interface {
	Name() string
	State() node.State
	SetLevel(level int, source string) int
	HandleGesture(g node.Gesture)
	Events() *node.EventBus
}

// Bridge publishes lamp state and diagnostics to MQTT and accepts set commands.
type Bridge struct {
	client    pahomqtt.Client
	lamp      Lamp
	prefix    string
	base      string // <prefix>/<node name>
	discovery bool
	logger    *slog.Logger
	unsub     func()
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(lamp Lamp, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		lamp:      lamp,
		prefix:    cfg.TopicPrefix,
		base:      cfg.TopicPrefix + "/" + topicName(lamp.Name()),
		discovery: cfg.Discovery,
		logger:    logger.With("component", "mqtt"),
	}

	clientID := fmt.Sprintf("espnow-lamp-%s-%s", topicName(lamp.Name()), uuid.NewString()[:8])
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topic("availability"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected", "client_id", clientID)
			b.publish(b.topic("availability"), []byte("online"), true)
			if b.discovery {
				b.publishDiscovery()
			} else {
				b.clearDiscovery()
			}
			b.publishState()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to node events.
func (b *Bridge) Start() {
	b.unsub = b.lamp.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "base", b.base)
}

// Stop publishes offline availability, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.topic("availability"), []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) topic(leaf string) string {
	return b.base + "/" + leaf
}

func (b *Bridge) handleEvent(event node.Event) {
	switch event.Type {
	case node.EventLevel, node.EventPairing:
		b.publishState()
	}
	switch event.Type {
	case node.EventBind, node.EventBindError, node.EventUnbind, node.EventPairing, node.EventSendSkipped:
		b.publish(b.topic("events"), eventPayload(event, time.Now()), false)
	}
}

func (b *Bridge) publishState() {
	b.publish(b.topic("state"), statePayload(b.lamp.State()), true)
}

func (b *Bridge) publishDiscovery() {
	for _, msg := range buildDiscovery(b.lamp.Name(), b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "name", b.lamp.Name())
}

// clearDiscovery removes entities left by an earlier run with discovery on.
func (b *Bridge) clearDiscovery() {
	for _, msg := range buildRemoveDiscovery(b.lamp.Name()) {
		b.publish(msg.Topic, msg.Payload, true)
	}
}

func (b *Bridge) subscribeCommands() {
	topic := b.topic("set")
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Payload())
	})
}

// setCommand is the JSON accepted on the set topic. Both the native form
// ({"level":n} / {"action":...}) and the HA JSON light schema
// ({"state":"ON","brightness":n}) are understood.
type setCommand struct {
	Level      *int   `json:"level"`
	Brightness *int   `json:"brightness"`
	State      string `json:"state"`
	Action     string `json:"action"`
}

func parseSetCommand(payload []byte) (setCommand, error) {
	var cmd setCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("invalid command JSON: %w", err)
	}
	switch cmd.Action {
	case "", "toggle", "bind", "ramp":
	default:
		return cmd, fmt.Errorf("unknown action %q", cmd.Action)
	}
	if cmd.Level == nil && cmd.Brightness == nil && cmd.State == "" && cmd.Action == "" {
		return cmd, fmt.Errorf("empty command")
	}
	return cmd, nil
}

func (b *Bridge) handleCommand(payload []byte) {
	cmd, err := parseSetCommand(payload)
	if err != nil {
		b.logger.Warn("set command rejected", "err", err)
		return
	}

	switch cmd.Action {
	case "toggle":
		b.lamp.HandleGesture(node.Gesture{Kind: node.GestureSingleClick, Source: "mqtt"})
	case "bind":
		b.lamp.HandleGesture(node.Gesture{Kind: node.GestureDoubleClick, Source: "mqtt"})
	case "ramp":
		b.lamp.HandleGesture(node.Gesture{Kind: node.GestureLongHoldTick, Source: "mqtt"})
	}

	switch {
	case cmd.Level != nil:
		b.lamp.SetLevel(*cmd.Level, "mqtt")
	case cmd.Brightness != nil:
		b.lamp.SetLevel(*cmd.Brightness, "mqtt")
	case strings.EqualFold(cmd.State, "OFF"):
		b.lamp.SetLevel(0, "mqtt")
	case strings.EqualFold(cmd.State, "ON"):
		if b.lamp.State().Level == 0 {
			b.lamp.SetLevel(100, "mqtt")
		}
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// statePayload is the retained state document, readable by the HA JSON light schema.
func statePayload(st node.State) []byte {
	state := "OFF"
	if st.Level > 0 {
		state = "ON"
	}
	return mustJSON(map[string]any{
		"state":      state,
		"brightness": st.Level,
		"level":      st.Level,
		"bound":      st.Bound,
		"status":     st.Status.String(),
	})
}

func eventPayload(event node.Event, at time.Time) []byte {
	return mustJSON(map[string]any{
		"type": event.Type,
		"data": event.Data,
		"time": at.UTC().Format(time.RFC3339),
	})
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
