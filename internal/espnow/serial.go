package espnow

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Frame types on the co-processor link. Requests flow host -> dongle and are
// answered by frameAck with the same sequence number; indications flow
// dongle -> host unsolicited.
const (
	frameInit       uint8 = 0x01
	frameSend       uint8 = 0x02
	frameBind       uint8 = 0x03
	frameBindWindow uint8 = 0x04

	frameAck          uint8 = 0x80
	frameCommandInd   uint8 = 0x81
	frameBindInd      uint8 = 0x82
	frameBindErrorInd uint8 = 0x83
	frameUnbindInd    uint8 = 0x84
)

// Ack status codes.
const (
	ackOK       uint8 = 0x00
	ackNotBound uint8 = 0x01
	ackFailed   uint8 = 0xFF
)

const (
	serialRequestTimeout = 2 * time.Second
	indicationQueueSize  = 64
)

func frameName(t uint8) string {
	switch t {
	case frameInit:
		return "Init"
	case frameSend:
		return "Send"
	case frameBind:
		return "Bind"
	case frameBindWindow:
		return "BindWindow"
	case frameAck:
		return "Ack"
	case frameCommandInd:
		return "CommandInd"
	case frameBindInd:
		return "BindInd"
	case frameBindErrorInd:
		return "BindErrorInd"
	case frameUnbindInd:
		return "UnbindInd"
	default:
		return fmt.Sprintf("0x%02X", t)
	}
}

type ackFrame struct {
	status  uint8
	payload []byte
}

// SerialRadio implements Radio using an ESP32 running the ESP-NOW bridge
// firmware, attached over USB CDC ACM.
type SerialRadio struct {
	port     io.ReadWriteCloser
	reader   *bufio.Reader
	portName string
	logger   *slog.Logger

	seq       atomic.Uint32
	pending   map[uint8]chan ackFrame
	pendingMu sync.Mutex
	writeMu   sync.Mutex

	handlerMu   sync.RWMutex
	onCommand   func(Command)
	onBind      func(BindInfo)
	onBindError func(BindError)
	onUnbind    func(BindInfo)

	localMAC MAC

	// Indication handlers run here, off the read loop, so a handler may
	// issue requests of its own.
	indications chan func()

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSerialRadio opens the serial port and starts the read loop.
func NewSerialRadio(portName string, baudRate int, logger *slog.Logger) (*SerialRadio, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("espnow serial: open %s: %w", portName, err)
	}

	// USB CDC ACM: assert DTR/RTS so the bridge firmware starts talking.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	return newSerialRadio(port, portName, logger), nil
}

func newSerialRadio(port io.ReadWriteCloser, portName string, logger *slog.Logger) *SerialRadio {
	r := &SerialRadio{
		port:        port,
		reader:      bufio.NewReader(port),
		portName:    portName,
		logger:      logger.With("component", "radio", "port", portName),
		pending:     make(map[uint8]chan ackFrame),
		indications: make(chan func(), indicationQueueSize),
		done:        make(chan struct{}),
	}
	r.wg.Add(2)
	go r.readLoop()
	go r.dispatchLoop()
	return r
}

// LocalMAC returns the dongle's station address, known after Init.
func (r *SerialRadio) LocalMAC() MAC {
	return r.localMAC
}

// Init resets the bridge firmware's session and reads its station address.
func (r *SerialRadio) Init(ctx context.Context) error {
	ack, err := r.request(ctx, frameInit, nil)
	if err != nil {
		return fmt.Errorf("radio init: %w", err)
	}
	if len(ack.payload) >= len(r.localMAC) {
		copy(r.localMAC[:], ack.payload)
	}
	r.logger.Info("radio initialized", "mac", r.localMAC)
	return nil
}

// Send hands a command to the dongle for delivery to bound responders.
func (r *SerialRadio) Send(ctx context.Context, cmd Command) error {
	payload, _ := cmd.MarshalBinary()
	_, err := r.request(ctx, frameSend, payload)
	return err
}

// RequestBind broadcasts a bind request for key. The dongle reports the
// outcome later via a bind or bind error indication.
func (r *SerialRadio) RequestBind(ctx context.Context, key Attribute, timeout time.Duration) error {
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(key))
	binary.LittleEndian.PutUint32(payload[2:6], uint32(timeout/time.Millisecond))
	_, err := r.request(ctx, frameBind, payload)
	return err
}

// AcceptBindWindow opens the responder bind window on the dongle.
func (r *SerialRadio) AcceptBindWindow(ctx context.Context, w BindWindow) error {
	payload := make([]byte, 5)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(w.Duration/time.Millisecond))
	payload[4] = byte(w.RSSIThreshold)
	_, err := r.request(ctx, frameBindWindow, payload)
	return err
}

func (r *SerialRadio) OnCommand(handler func(Command)) {
	r.handlerMu.Lock()
	r.onCommand = handler
	r.handlerMu.Unlock()
}

func (r *SerialRadio) OnBind(handler func(BindInfo)) {
	r.handlerMu.Lock()
	r.onBind = handler
	r.handlerMu.Unlock()
}

func (r *SerialRadio) OnBindError(handler func(BindError)) {
	r.handlerMu.Lock()
	r.onBindError = handler
	r.handlerMu.Unlock()
}

func (r *SerialRadio) OnUnbind(handler func(BindInfo)) {
	r.handlerMu.Lock()
	r.onUnbind = handler
	r.handlerMu.Unlock()
}

// Close stops the read loop and closes the port.
func (r *SerialRadio) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.port.Close()
	})
	r.wg.Wait()

	r.pendingMu.Lock()
	for seq, ch := range r.pending {
		close(ch)
		delete(r.pending, seq)
	}
	r.pendingMu.Unlock()
	return err
}

// request writes a frame and waits for the matching ack.
func (r *SerialRadio) request(ctx context.Context, typ uint8, payload []byte) (ackFrame, error) {
	seq := uint8(r.seq.Add(1))
	ch := make(chan ackFrame, 1)
	r.pendingMu.Lock()
	r.pending[seq] = ch
	r.pendingMu.Unlock()
	defer func() {
		r.pendingMu.Lock()
		delete(r.pending, seq)
		r.pendingMu.Unlock()
	}()

	body := make([]byte, 2+len(payload))
	body[0] = typ
	body[1] = seq
	copy(body[2:], payload)

	r.writeMu.Lock()
	_, err := r.port.Write(hdlcEncode(body))
	r.writeMu.Unlock()
	if err != nil {
		return ackFrame{}, fmt.Errorf("serial write %s: %w", frameName(typ), err)
	}
	r.logger.Debug("radio TX", "frame", frameName(typ), "seq", seq, "payload", fmt.Sprintf("%X", payload))

	timer := time.NewTimer(serialRequestTimeout)
	defer timer.Stop()

	select {
	case ack, ok := <-ch:
		if !ok {
			return ackFrame{}, ErrClosed
		}
		switch ack.status {
		case ackOK:
			return ack, nil
		case ackNotBound:
			return ack, fmt.Errorf("%s: %w", frameName(typ), ErrNotBound)
		default:
			return ack, fmt.Errorf("%s: status 0x%02X", frameName(typ), ack.status)
		}
	case <-timer.C:
		return ackFrame{}, fmt.Errorf("%s: ack timeout after %s", frameName(typ), serialRequestTimeout)
	case <-ctx.Done():
		return ackFrame{}, ctx.Err()
	case <-r.done:
		return ackFrame{}, ErrClosed
	}
}

func (r *SerialRadio) readLoop() {
	defer r.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-r.done:
			return
		default:
		}

		inner, err := readHDLCFrame(r.reader)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				r.logger.Error("radio read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-r.done:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 10 * time.Millisecond

		body, err := hdlcDecode(inner)
		if err != nil {
			r.logger.Warn("radio frame dropped", "err", err)
			continue
		}
		if len(body) < 2 {
			r.logger.Warn("radio frame too short", "len", len(body))
			continue
		}
		r.handleFrame(body[0], body[1], body[2:])
	}
}

func (r *SerialRadio) handleFrame(typ, seq uint8, payload []byte) {
	r.logger.Debug("radio RX", "frame", frameName(typ), "seq", seq, "payload", fmt.Sprintf("%X", payload))

	if typ == frameAck {
		if len(payload) < 1 {
			r.logger.Warn("radio ack without status", "seq", seq)
			return
		}
		r.pendingMu.Lock()
		ch, ok := r.pending[seq]
		r.pendingMu.Unlock()
		if !ok {
			r.logger.Warn("radio orphaned ack", "seq", seq, "status", payload[0])
			return
		}
		select {
		case ch <- ackFrame{status: payload[0], payload: append([]byte(nil), payload[1:]...)}:
		default:
		}
		return
	}

	r.handlerMu.RLock()
	onCommand := r.onCommand
	onBind := r.onBind
	onBindError := r.onBindError
	onUnbind := r.onUnbind
	r.handlerMu.RUnlock()

	switch typ {
	case frameCommandInd:
		cmd, err := ParseCommand(payload)
		if err != nil {
			r.logger.Warn("radio command indication", "err", err)
			return
		}
		if onCommand != nil {
			r.dispatch(func() { onCommand(cmd) })
		}
	case frameBindInd, frameUnbindInd:
		info, err := parseBindInfo(payload)
		if err != nil {
			r.logger.Warn("radio bind indication", "frame", frameName(typ), "err", err)
			return
		}
		if typ == frameBindInd && onBind != nil {
			r.dispatch(func() { onBind(info) })
		}
		if typ == frameUnbindInd && onUnbind != nil {
			r.dispatch(func() { onUnbind(info) })
		}
	case frameBindErrorInd:
		reason := BindErrorUnknown
		if len(payload) >= 1 && payload[0] <= uint8(BindErrorUnknown) {
			reason = BindError(payload[0])
		}
		if onBindError != nil {
			r.dispatch(func() { onBindError(reason) })
		}
	default:
		r.logger.Warn("radio unknown frame", "type", fmt.Sprintf("0x%02X", typ))
	}
}

func (r *SerialRadio) dispatch(fn func()) {
	select {
	case r.indications <- fn:
	default:
		r.logger.Warn("radio indication queue full, dropping")
	}
}

func (r *SerialRadio) dispatchLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case fn := <-r.indications:
			fn()
		}
	}
}

// parseBindInfo decodes mac(6) + initiator attribute(2).
func parseBindInfo(data []byte) (BindInfo, error) {
	var info BindInfo
	if len(data) < 8 {
		return info, fmt.Errorf("bind info too short: %d bytes", len(data))
	}
	copy(info.MAC[:], data[0:6])
	info.InitiatorAttribute = Attribute(binary.LittleEndian.Uint16(data[6:8]))
	return info, nil
}
