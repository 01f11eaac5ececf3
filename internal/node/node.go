// Package node holds the control logic of one switch/lamp node: gesture
// dispatch, the pairing state machine, and the send and receive paths that
// carry brightness between bound peers.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"espnow-lamp/internal/actuator"
	"espnow-lamp/internal/espnow"
	"espnow-lamp/internal/ramp"
	"espnow-lamp/internal/store"
)

// Status is the initiator-side pairing status.
type Status int

const (
	StatusUnbound Status = iota
	StatusBound
)

func (s Status) String() string {
	if s == StatusBound {
		return "bound"
	}
	return "unbound"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds node configuration.
type Config struct {
	Name string
	// Key is the initiator attribute this node's button reports under.
	Key espnow.Attribute
	// BindWindow is opened on the responder side at Start. A zero
	// RSSIThreshold selects DefaultRSSIThreshold; 0 dBm is not a usable
	// threshold since received signal strength is always negative.
	BindWindow espnow.BindWindow
	// BindTimeout is passed to the radio with each bind request.
	BindTimeout time.Duration
	RampStep    int
	// RestoreLevel applies the stored level at startup instead of 0.
	RestoreLevel bool
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "lamp"
	}
	if c.Key == 0 {
		c.Key = espnow.AttributeKey1
	}
	if c.BindWindow.Duration == 0 {
		c.BindWindow.Duration = espnow.DefaultBindWindow
	}
	if c.BindWindow.RSSIThreshold == 0 {
		c.BindWindow.RSSIThreshold = espnow.DefaultRSSIThreshold
	}
	if c.BindTimeout == 0 {
		c.BindTimeout = espnow.DefaultBindWindow
	}
	if c.RampStep <= 0 {
		c.RampStep = ramp.DefaultStep
	}
}

// State is a snapshot of the node for API consumers.
type State struct {
	Name      string `json:"name"`
	Level     int    `json:"level"`
	Direction string `json:"direction"`
	Status    Status `json:"status"`
	Bound     bool   `json:"bound"`
}

// Node owns the brightness level, ramp direction and pairing status.
type Node struct {
	cfg    Config
	radio  espnow.Radio
	act    actuator.Actuator
	store  store.Store // optional
	events *EventBus
	logger *slog.Logger

	mu     sync.Mutex
	ramp   *ramp.Engine
	status Status

	// applyMu is held from a level change until its actuator, store and
	// send side effects are done, so the last command out carries the
	// current level. Event subscribers must not call back into the node
	// synchronously.
	applyMu sync.Mutex

	// Level writes are coalesced onto saveLoop.
	saveMu    sync.Mutex
	saveLevel int
	saveDirty bool
	saveWake  chan struct{}
	saverDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a node and registers its radio indication handlers. st may be nil.
func New(radio espnow.Radio, act actuator.Actuator, st store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Node {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:    cfg,
		radio:  radio,
		act:    act,
		store:  st,
		events: events,
		logger: logger.With("component", "node", "node", cfg.Name),
		ramp:   ramp.New(cfg.RampStep),
		status: StatusUnbound,
		ctx:    ctx,
		cancel: cancel,
	}
	if st != nil {
		if cfg.RestoreLevel {
			if level, err := st.Level(); err == nil {
				n.ramp.SetLevel(level)
			}
		}
		n.saveWake = make(chan struct{}, 1)
		n.saverDone = make(chan struct{})
		go n.saveLoop()
	}
	n.registerIndicationHandlers()
	return n
}

// Start initializes the radio, opens the responder bind window and drives the
// actuator to the initial level. Any error is fatal for the node.
func (n *Node) Start(ctx context.Context) error {
	if err := n.radio.Init(ctx); err != nil {
		return fmt.Errorf("radio init: %w", err)
	}
	if err := n.radio.AcceptBindWindow(ctx, n.cfg.BindWindow); err != nil {
		return fmt.Errorf("accept bind window: %w", err)
	}
	level := n.State().Level
	if err := n.act.SetLevel(uint8(level)); err != nil {
		return fmt.Errorf("actuator init: %w", err)
	}
	n.logger.Info("node started",
		"key", n.cfg.Key,
		"bind_window", n.cfg.BindWindow.Duration,
		"rssi_threshold", n.cfg.BindWindow.RSSIThreshold,
		"level", level)
	return nil
}

// Stop cancels in-flight radio requests and writes any pending level.
func (n *Node) Stop() {
	n.cancel()
	if n.saverDone != nil {
		<-n.saverDone
	}
}

func (n *Node) Name() string {
	return n.cfg.Name
}

func (n *Node) Events() *EventBus {
	return n.events
}

// State returns a consistent snapshot of the node state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return State{
		Name:      n.cfg.Name,
		Level:     n.ramp.Level(),
		Direction: n.ramp.Direction().String(),
		Status:    n.status,
		Bound:     n.status == StatusBound,
	}
}

// HandleGesture dispatches g to the handler for its kind.
func (n *Node) HandleGesture(g Gesture) {
	switch g.Kind {
	case GestureSingleClick:
		n.onToggle(g)
	case GestureDoubleClick:
		n.onBind(g)
	case GestureLongHoldTick:
		n.onRamp(g)
	default:
		panic(fmt.Sprintf("node: no handler for %s gesture from %q", g.Kind, g.Source))
	}
}

// SetLevel applies a level chosen locally (API, MQTT, scripts) and reports it
// to the peer like any other local change.
func (n *Node) SetLevel(level int, source string) int {
	n.applyMu.Lock()
	defer n.applyMu.Unlock()

	n.mu.Lock()
	applied := n.ramp.SetLevel(level)
	status := n.status
	n.mu.Unlock()

	n.logger.Info("set level", "level", applied, "source", source)
	n.apply(applied, status, source)
	return applied
}

// HandleCommand is the receive path: the peer's value becomes the level, the
// actuator follows, and the resulting state is echoed back.
func (n *Node) HandleCommand(cmd espnow.Command) {
	n.logger.Info("command received",
		"initiator", cmd.Initiator,
		"responder", cmd.Responder,
		"value", cmd.Value)
	n.events.Emit(Event{Type: EventCommandReceived, Data: commandData(cmd)})

	n.applyMu.Lock()
	defer n.applyMu.Unlock()

	n.mu.Lock()
	level := n.ramp.SetLevel(int(min(cmd.Value, ramp.MaxLevel)))
	status := n.status
	n.mu.Unlock()

	n.apply(level, status, "radio")
}

func (n *Node) onToggle(g Gesture) {
	mustKind(g, GestureSingleClick)

	n.applyMu.Lock()
	defer n.applyMu.Unlock()

	n.mu.Lock()
	level := n.ramp.Toggle()
	status := n.status
	n.mu.Unlock()

	n.logger.Info("toggle", "level", level, "source", g.Source)
	n.apply(level, status, g.Source)
}

func (n *Node) onRamp(g Gesture) {
	mustKind(g, GestureLongHoldTick)

	n.applyMu.Lock()
	defer n.applyMu.Unlock()

	n.mu.Lock()
	level := n.ramp.Tick()
	dir := n.ramp.Direction()
	status := n.status
	n.mu.Unlock()

	n.logger.Debug("ramp", "level", level, "direction", dir, "source", g.Source)
	n.apply(level, status, g.Source)
}

// onBind marks the node bound as soon as the request is issued. The
// handshake outcome arrives later as a bind or bind error indication.
func (n *Node) onBind(g Gesture) {
	mustKind(g, GestureDoubleClick)

	n.mu.Lock()
	if n.status == StatusBound {
		n.mu.Unlock()
		n.logger.Info("this device is already in bound status", "source", g.Source)
		n.events.Emit(Event{Type: EventPairing, Data: map[string]any{
			"status":    StatusBound.String(),
			"requested": false,
			"source":    g.Source,
		}})
		return
	}
	n.status = StatusBound
	n.mu.Unlock()

	if err := n.radio.RequestBind(n.ctx, n.cfg.Key, n.cfg.BindTimeout); err != nil {
		n.logger.Error("bind request", "err", err)
	} else {
		n.logger.Info("bind requested", "key", n.cfg.Key, "timeout", n.cfg.BindTimeout, "source", g.Source)
	}
	n.events.Emit(Event{Type: EventPairing, Data: map[string]any{
		"status":    StatusBound.String(),
		"requested": true,
		"source":    g.Source,
	}})
}

// apply drives the actuator and then runs the send path. Caller holds applyMu.
func (n *Node) apply(level int, status Status, source string) {
	if err := n.act.SetLevel(uint8(level)); err != nil {
		n.logger.Error("set actuator level", "level", level, "err", err)
	}
	n.persistLevel(level)
	n.events.Emit(Event{Type: EventLevel, Data: map[string]any{
		"level":  level,
		"source": source,
	}})
	n.send(level, status)
}

func (n *Node) send(level int, status Status) {
	if status != StatusBound {
		n.logger.Info("please double click to bind the devices firstly", "level", level)
		n.events.Emit(Event{Type: EventSendSkipped, Data: map[string]any{
			"level":  level,
			"reason": "unbound",
		}})
		return
	}
	cmd := espnow.PowerCommand(n.cfg.Key, uint32(level))
	if err := n.radio.Send(n.ctx, cmd); err != nil {
		n.logger.Warn("send command", "cmd", cmd, "err", err)
		return
	}
	n.logger.Debug("command sent", "cmd", cmd)
	n.events.Emit(Event{Type: EventCommandSent, Data: commandData(cmd)})
}

// persistLevel hands level to saveLoop without waiting on the store. Only
// the newest pending level is written.
func (n *Node) persistLevel(level int) {
	if n.store == nil {
		return
	}
	n.saveMu.Lock()
	n.saveLevel, n.saveDirty = level, true
	n.saveMu.Unlock()
	select {
	case n.saveWake <- struct{}{}:
	default:
	}
}

func (n *Node) saveLoop() {
	defer close(n.saverDone)
	for {
		select {
		case <-n.saveWake:
			n.flushLevel()
		case <-n.ctx.Done():
			n.flushLevel()
			return
		}
	}
}

func (n *Node) flushLevel() {
	n.saveMu.Lock()
	level, dirty := n.saveLevel, n.saveDirty
	n.saveDirty = false
	n.saveMu.Unlock()
	if !dirty {
		return
	}
	if err := n.store.SaveLevel(level); err != nil {
		n.logger.Warn("save level", "level", level, "err", err)
	}
}

func (n *Node) registerIndicationHandlers() {
	n.radio.OnCommand(n.HandleCommand)
	n.radio.OnBind(n.handleBind)
	n.radio.OnBindError(n.handleBindError)
	n.radio.OnUnbind(n.handleUnbind)
}

func (n *Node) handleBind(info espnow.BindInfo) {
	n.logger.Info("bind", "mac", info.MAC, "initiator_attribute", info.InitiatorAttribute)
	n.recordPeer(info, true)
	n.events.Emit(Event{Type: EventBind, Data: bindData(info)})
}

// handleBindError reports the failure. Pairing status is left as it is.
func (n *Node) handleBindError(reason espnow.BindError) {
	n.logger.Warn("bind error", "reason", reason.String())
	n.events.Emit(Event{Type: EventBindError, Data: map[string]any{
		"reason":  reason.Code(),
		"message": reason.String(),
	}})
}

// handleUnbind records the peer as gone. Pairing status is left as it is.
func (n *Node) handleUnbind(info espnow.BindInfo) {
	n.logger.Info("unbind", "mac", info.MAC, "initiator_attribute", info.InitiatorAttribute)
	n.recordPeer(info, false)
	n.events.Emit(Event{Type: EventUnbind, Data: bindData(info)})
}

func (n *Node) recordPeer(info espnow.BindInfo, bound bool) {
	if n.store == nil {
		return
	}
	err := n.store.SavePeer(&store.Peer{
		MAC:                info.MAC.String(),
		InitiatorAttribute: uint16(info.InitiatorAttribute),
		Bound:              bound,
		UpdatedAt:          time.Now(),
	})
	if err != nil {
		n.logger.Warn("save peer", "mac", info.MAC, "err", err)
	}
}

func commandData(cmd espnow.Command) map[string]any {
	return map[string]any{
		"initiator_attribute": cmd.Initiator.String(),
		"responder_attribute": cmd.Responder.String(),
		"value":               cmd.Value,
	}
}

func bindData(info espnow.BindInfo) map[string]any {
	return map[string]any{
		"mac":                 info.MAC.String(),
		"initiator_attribute": info.InitiatorAttribute.String(),
	}
}
