package espnow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultLinkRSSI     int8 = -40
	defaultBindCapacity      = 32
	loopbackInboxSize        = 64
)

// Air is a shared in-memory medium connecting LoopbackRadios. It models the
// parts of ESP-NOW control the node depends on: responder bind windows with an
// RSSI threshold, a bounded bind list per responder, and asynchronous delivery.
type Air struct {
	mu       sync.Mutex
	radios   map[MAC]*LoopbackRadio
	rssi     int8
	capacity int
	now      func() time.Time
	logger   *slog.Logger
}

// NewAir creates an empty medium.
func NewAir(logger *slog.Logger) *Air {
	return &Air{
		radios:   make(map[MAC]*LoopbackRadio),
		rssi:     defaultLinkRSSI,
		capacity: defaultBindCapacity,
		now:      time.Now,
		logger:   logger.With("component", "air"),
	}
}

// SetRSSI sets the signal strength every receiver observes.
func (a *Air) SetRSSI(rssi int8) {
	a.mu.Lock()
	a.rssi = rssi
	a.mu.Unlock()
}

// SetBindCapacity sets the bind list size of every responder.
func (a *Air) SetBindCapacity(n int) {
	a.mu.Lock()
	a.capacity = n
	a.mu.Unlock()
}

// Join attaches a new radio with the given address.
func (a *Air) Join(mac MAC) *LoopbackRadio {
	r := &LoopbackRadio{
		air:      a,
		mac:      mac,
		bindList: make(map[MAC]Attribute),
		inbox:    make(chan func(), loopbackInboxSize),
		done:     make(chan struct{}),
	}
	a.mu.Lock()
	a.radios[mac] = r
	a.mu.Unlock()

	r.wg.Add(1)
	go r.deliverLoop()
	return r
}

// Unbind removes initiator from every responder's bind list and raises an
// unbind indication on each responder that had it.
func (a *Air) Unbind(initiator MAC) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.radios {
		r.mu.Lock()
		key, ok := r.bindList[initiator]
		if ok {
			delete(r.bindList, initiator)
		}
		r.mu.Unlock()
		if ok {
			info := BindInfo{MAC: initiator, InitiatorAttribute: key}
			r.deliver(func() { r.emitUnbind(info) })
		}
	}
}

func (a *Air) leave(mac MAC) {
	a.mu.Lock()
	delete(a.radios, mac)
	a.mu.Unlock()
}

// LoopbackRadio is a Radio attached to an Air.
type LoopbackRadio struct {
	air *Air
	mac MAC

	mu          sync.Mutex
	windowUntil time.Time
	windowRSSI  int8
	bindList    map[MAC]Attribute // initiators bound to this responder

	handlerMu   sync.RWMutex
	onCommand   func(Command)
	onBind      func(BindInfo)
	onBindError func(BindError)
	onUnbind    func(BindInfo)

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// MAC returns the radio's address on the air.
func (r *LoopbackRadio) MAC() MAC {
	return r.mac
}

func (r *LoopbackRadio) Init(ctx context.Context) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
		return nil
	}
}

// Send encodes cmd and delivers it to every responder that bound this radio
// under cmd.Initiator. Like ESP-NOW broadcast, an absent audience is not an error.
func (r *LoopbackRadio) Send(ctx context.Context, cmd Command) error {
	if r.closed() {
		return ErrClosed
	}
	frame, err := cmd.MarshalBinary()
	if err != nil {
		return err
	}

	a := r.air
	a.mu.Lock()
	defer a.mu.Unlock()
	delivered := 0
	for mac, peer := range a.radios {
		if mac == r.mac {
			continue
		}
		peer.mu.Lock()
		key, ok := peer.bindList[r.mac]
		peer.mu.Unlock()
		if !ok || key != cmd.Initiator {
			continue
		}
		p := peer
		p.deliver(func() {
			got, err := ParseCommand(frame)
			if err != nil {
				a.logger.Warn("loopback decode", "err", err)
				return
			}
			p.emitCommand(got)
		})
		delivered++
	}
	a.logger.Debug("loopback send", "from", r.mac, "cmd", cmd, "receivers", delivered)
	return nil
}

// RequestBind offers a bind for key to every responder with an open window.
// Outcomes are reported on the responder side; if no window is open the
// initiator receives a timeout once timeout elapses.
func (r *LoopbackRadio) RequestBind(ctx context.Context, key Attribute, timeout time.Duration) error {
	if r.closed() {
		return ErrClosed
	}
	a := r.air
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	offered := 0
	for mac, peer := range a.radios {
		if mac == r.mac {
			continue
		}
		peer.mu.Lock()
		if !now.Before(peer.windowUntil) {
			peer.mu.Unlock()
			continue
		}
		offered++
		p := peer
		switch _, already := peer.bindList[r.mac]; {
		case a.rssi < peer.windowRSSI:
			peer.mu.Unlock()
			p.deliver(func() { p.emitBindError(BindErrorRSSI) })
		case !already && len(peer.bindList) >= a.capacity:
			peer.mu.Unlock()
			p.deliver(func() { p.emitBindError(BindErrorListFull) })
		default:
			peer.bindList[r.mac] = key
			peer.mu.Unlock()
			info := BindInfo{MAC: r.mac, InitiatorAttribute: key}
			p.deliver(func() { p.emitBind(info) })
		}
	}

	if offered == 0 {
		time.AfterFunc(timeout, func() {
			r.deliver(func() { r.emitBindError(BindErrorTimeout) })
		})
	}
	return nil
}

// AcceptBindWindow opens this radio's bind window.
func (r *LoopbackRadio) AcceptBindWindow(ctx context.Context, w BindWindow) error {
	if r.closed() {
		return ErrClosed
	}
	now := r.air.now()
	r.mu.Lock()
	r.windowUntil = now.Add(w.Duration)
	r.windowRSSI = w.RSSIThreshold
	r.mu.Unlock()
	return nil
}

func (r *LoopbackRadio) OnCommand(handler func(Command)) {
	r.handlerMu.Lock()
	r.onCommand = handler
	r.handlerMu.Unlock()
}

func (r *LoopbackRadio) OnBind(handler func(BindInfo)) {
	r.handlerMu.Lock()
	r.onBind = handler
	r.handlerMu.Unlock()
}

func (r *LoopbackRadio) OnBindError(handler func(BindError)) {
	r.handlerMu.Lock()
	r.onBindError = handler
	r.handlerMu.Unlock()
}

func (r *LoopbackRadio) OnUnbind(handler func(BindInfo)) {
	r.handlerMu.Lock()
	r.onUnbind = handler
	r.handlerMu.Unlock()
}

// Close detaches the radio and stops its delivery goroutine.
func (r *LoopbackRadio) Close() error {
	r.closeOnce.Do(func() {
		r.air.leave(r.mac)
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

func (r *LoopbackRadio) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *LoopbackRadio) deliver(fn func()) {
	select {
	case <-r.done:
	case r.inbox <- fn:
	default:
		r.air.logger.Warn("loopback inbox full, frame lost", "to", r.mac)
	}
}

func (r *LoopbackRadio) deliverLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case fn := <-r.inbox:
			fn()
		}
	}
}

func (r *LoopbackRadio) emitCommand(cmd Command) {
	r.handlerMu.RLock()
	h := r.onCommand
	r.handlerMu.RUnlock()
	if h != nil {
		h(cmd)
	}
}

func (r *LoopbackRadio) emitBind(info BindInfo) {
	r.handlerMu.RLock()
	h := r.onBind
	r.handlerMu.RUnlock()
	if h != nil {
		h(info)
	}
}

func (r *LoopbackRadio) emitBindError(reason BindError) {
	r.handlerMu.RLock()
	h := r.onBindError
	r.handlerMu.RUnlock()
	if h != nil {
		h(reason)
	}
}

func (r *LoopbackRadio) emitUnbind(info BindInfo) {
	r.handlerMu.RLock()
	h := r.onUnbind
	r.handlerMu.RUnlock()
	if h != nil {
		h(info)
	}
}
