// Package sar implements the stop-and-wait-with-window reliable framing
// layer described in spec §4.3: cumulative ACK, NAK-triggered retransmission,
// and out-of-band CMD frames used to negotiate window/MTU/timeout.
package sar

import (
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l1"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l2"
)

// Config seeds the initial L1_START_REQ proposal and the auxiliary task
// cadence. Field names mirror spec §6's per-device configuration.
type Config struct {
	Version               byte
	MPS                   uint16
	ProposedWindow        uint16
	ProposedSendTimeoutMs uint16
	DeviceType            byte
	TxWinOverrunAllowance uint16

	TimeoutCheckInterval time.Duration // ~2Hz
	CumulativeAckDelay   time.Duration // ~500ms
}

func (c Config) withDefaults() Config {
	if c.TimeoutCheckInterval == 0 {
		c.TimeoutCheckInterval = 500 * time.Millisecond
	}
	if c.CumulativeAckDelay == 0 {
		c.CumulativeAckDelay = 500 * time.Millisecond
	}
	if c.ProposedWindow == 0 {
		c.ProposedWindow = 4
	}
	if c.ProposedSendTimeoutMs == 0 {
		c.ProposedSendTimeoutMs = 1000
	}
	if c.TxWinOverrunAllowance == 0 {
		c.TxWinOverrunAllowance = 2
	}
	return c
}

type queueEntry struct {
	seq              byte
	waitAck          bool
	retransmitNeeded bool
	payload          []byte
	deadline         time.Time
}

// Sender writes a complete, already-framed byte slice to the transport. It
// must not block for long; the controller calls it synchronously from
// outside its own lock but from whatever goroutine drove the triggering
// event (inbound frame, enqueue call, or the timeout ticker).
type Sender func([]byte) error

// Controller is the per-device SAR state machine.
type Controller struct {
	mu  sync.Mutex
	cfg Config
	out Sender
	log *logging.Logger

	txQueue   []*queueEntry
	txNextSeq byte
	txBase    byte

	txWin          uint16
	txWinEffective uint16
	sendTimeoutMs  uint16

	dataQueue [][]byte
	cmdQueue  [][]byte

	rxExpectSeq   byte
	cumAckIndex   int
	cumAckSeq     byte
	cumAckArmed   bool
	cumAckVersion uint64

	acked map[byte]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a controller, immediately queues L1_START_REQ, and starts the
// periodic timeout checker.
func New(cfg Config, out Sender, log *logging.Logger) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:            cfg,
		out:            out,
		log:            log,
		txWin:          cfg.ProposedWindow,
		txWinEffective: cfg.ProposedWindow + cfg.TxWinOverrunAllowance,
		sendTimeoutMs:  cfg.ProposedSendTimeoutMs,
		acked:          make(map[byte]struct{}),
		stopCh:         make(chan struct{}),
	}
	startReq := l1.EncodeCommand(l1.CmdStartReq, l1.StartConfig{
		Version:    cfg.Version,
		MPS:        cfg.MPS,
		Window:     cfg.ProposedWindow,
		TimeoutMs:  cfg.ProposedSendTimeoutMs,
		DeviceType: cfg.DeviceType,
	})
	c.mu.Lock()
	c.queueCmdLocked(startReq)
	frames := c.flushCmdLocked()
	c.mu.Unlock()
	c.sendAll(frames)

	go c.timeoutLoop()
	return c
}

// Stop halts the timeout checker. Called when the owning device is removed.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) timeoutLoop() {
	ticker := time.NewTicker(c.cfg.TimeoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for _, e := range c.txQueue {
				if e.waitAck && now.After(e.deadline) {
					e.waitAck = false
					e.retransmitNeeded = true
				}
			}
			frames := c.tryRunNextLocked()
			c.mu.Unlock()
			c.sendAll(frames)
		}
	}
}

func (c *Controller) sendAll(frames [][]byte) {
	for _, f := range frames {
		if err := c.out(f); err != nil && c.log != nil {
			c.log.Warning("sar: send failed:", err)
		}
	}
}

func seqLE(a, b byte) bool {
	return byte(b-a) < 128
}

// Enqueue assigns the next sequence number to payload and queues it for
// delivery once the window allows, returning the assigned sequence.
func (c *Controller) Enqueue(payload []byte) byte {
	c.mu.Lock()
	seq := c.allocSeqLocked()
	c.dataQueue = append(c.dataQueue, taggedPayload(seq, payload))
	frames := c.tryRunNextLocked()
	c.mu.Unlock()
	c.sendAll(frames)
	return seq
}

// EnqueueBatch enqueues payloads atomically as one unit, in order.
func (c *Controller) EnqueueBatch(payloads [][]byte) []byte {
	c.mu.Lock()
	seqs := make([]byte, len(payloads))
	for i, p := range payloads {
		seq := c.allocSeqLocked()
		seqs[i] = seq
		c.dataQueue = append(c.dataQueue, taggedPayload(seq, p))
	}
	frames := c.tryRunNextLocked()
	c.mu.Unlock()
	c.sendAll(frames)
	return seqs
}

// EnqueueFront inserts payload ahead of everything still waiting for window,
// but behind whatever is already in flight.
func (c *Controller) EnqueueFront(payload []byte) byte {
	c.mu.Lock()
	seq := c.allocSeqLocked()
	c.dataQueue = append([][]byte{taggedPayload(seq, payload)}, c.dataQueue...)
	frames := c.tryRunNextLocked()
	c.mu.Unlock()
	c.sendAll(frames)
	return seq
}

// taggedPayload threads the assigned sequence through the data queue by
// packing it as the first byte; unpacked again in tryRunNextLocked.
func taggedPayload(seq byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = seq
	copy(out[1:], payload)
	return out
}

func untagPayload(tagged []byte) (byte, []byte) {
	return tagged[0], tagged[1:]
}

func (c *Controller) allocSeqLocked() byte {
	seq := c.txNextSeq
	c.txNextSeq++
	if c.txNextSeq == 0 {
		c.acked = make(map[byte]struct{})
	}
	return seq
}

// IsAcked reports whether seq has been acknowledged.
func (c *Controller) IsAcked(seq byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.acked[seq]
	return ok
}

// IsAllAcked reports whether every seq in seqs has been acknowledged.
func (c *Controller) IsAllAcked(seqs []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range seqs {
		if _, ok := c.acked[s]; !ok {
			return false
		}
	}
	return true
}

// MarkAckConsumed removes seq from the acked set once a higher layer (MASS)
// has finished with it, bounding memory use.
func (c *Controller) MarkAckConsumed(seq byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.acked, seq)
}

// TxWindowSize returns the negotiated (soft-capped) window.
func (c *Controller) TxWindowSize() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txWinEffective
}

// RawTxWindowSize returns the negotiated window without the overrun
// allowance.
func (c *Controller) RawTxWindowSize() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txWin
}

// SendTimeoutMs returns the negotiated per-frame retransmit deadline.
func (c *Controller) SendTimeoutMs() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendTimeoutMs
}

// OnL1 processes one inbound L1 frame, returning whether it should be
// delivered up the stack (decoded at L2 and dispatched to services).
func (c *Controller) OnL1(f l1.Frame) bool {
	c.mu.Lock()
	var frames [][]byte
	var deliver bool
	switch f.Type {
	case l1.TypeACK:
		c.drainThroughLocked(f.Seq)
		frames = c.tryRunNextLocked()
	case l1.TypeNAK:
		c.drainThroughLocked(f.Seq - 1)
		for _, e := range c.txQueue {
			if seqLE(f.Seq, e.seq) {
				e.waitAck = false
				e.retransmitNeeded = true
			}
		}
		frames = c.tryRunNextLocked()
	case l1.TypeCMD:
		id, cfg, err := l1.DecodeCommand(f.Payload)
		if err == nil && id == l1.CmdStartRsp {
			c.txWin = cfg.Window
			c.txWinEffective = cfg.Window + c.cfg.TxWinOverrunAllowance
			c.sendTimeoutMs = cfg.TimeoutMs
		}
		frames = c.tryRunNextLocked()
	case l1.TypeDATA:
		deliver, frames = c.onDataLocked(f)
	}
	c.mu.Unlock()
	c.sendAll(frames)
	return deliver
}

func (c *Controller) drainThroughLocked(through byte) {
	for len(c.txQueue) > 0 {
		head := c.txQueue[0]
		if !seqLE(head.seq, through) {
			break
		}
		c.acked[head.seq] = struct{}{}
		c.txQueue = c.txQueue[1:]
		c.txBase = head.seq + 1
	}
}

func (c *Controller) onDataLocked(f l1.Frame) (deliver bool, frames [][]byte) {
	var channel l2.Channel
	if len(f.Payload) > 0 {
		channel = l2.Channel(f.Payload[0])
	}
	if channel == l2.ChannelNetwork {
		return true, nil
	}
	if f.Frx {
		c.rxExpectSeq = f.Seq + 1
		return true, nil
	}
	if f.Seq != c.rxExpectSeq {
		frames = append(frames, c.encodeControl(l1.TypeNAK, c.rxExpectSeq))
		return false, frames
	}

	immediate := c.cumAckIndex >= (2*int(c.txWinEffective))/3 || channel == l2.ChannelPB || channel == l2.ChannelLyra
	if immediate {
		frames = append(frames, c.encodeControl(l1.TypeACK, f.Seq))
		c.cumAckIndex = 0
		c.cumAckArmed = false
		c.cumAckVersion++
	} else {
		c.cumAckIndex++
		c.cumAckSeq = f.Seq
		if !c.cumAckArmed {
			c.cumAckArmed = true
			c.cumAckVersion++
			version := c.cumAckVersion
			time.AfterFunc(c.cfg.CumulativeAckDelay, func() { c.fireCumAck(version) })
		}
	}
	c.rxExpectSeq = f.Seq + 1
	return true, frames
}

func (c *Controller) fireCumAck(version uint64) {
	c.mu.Lock()
	if !c.cumAckArmed || c.cumAckVersion != version {
		c.mu.Unlock()
		return
	}
	c.cumAckArmed = false
	seq := c.cumAckSeq
	c.cumAckIndex = 0
	frame := c.encodeControl(l1.TypeACK, seq)
	c.mu.Unlock()
	c.sendAll([][]byte{frame})
}

func (c *Controller) encodeControl(t l1.Type, seq byte) []byte {
	f, _ := l1.Encode(t, false, seq, nil)
	return f
}

func (c *Controller) queueCmdLocked(payload []byte) {
	frame, _ := l1.Encode(l1.TypeCMD, false, 0, payload)
	c.cmdQueue = append(c.cmdQueue, frame)
}

func (c *Controller) flushCmdLocked() [][]byte {
	frames := c.cmdQueue
	c.cmdQueue = nil
	return frames
}

// tryRunNextLocked implements the outbound scheduling algorithm of spec
// §4.3.2. Caller must hold c.mu; returns frames to transmit once unlocked.
func (c *Controller) tryRunNextLocked() [][]byte {
	var frames [][]byte

	for _, e := range c.txQueue {
		if e.retransmitNeeded {
			f, _ := l1.Encode(l1.TypeDATA, false, e.seq, e.payload)
			e.waitAck = true
			e.retransmitNeeded = false
			e.deadline = time.Now().Add(time.Duration(c.sendTimeoutMs) * time.Millisecond)
			return append(frames, f)
		}
	}

	frames = append(frames, c.flushCmdLocked()...)

	for len(c.txQueue) < int(c.txWinEffective) && len(c.dataQueue) > 0 {
		tagged := c.dataQueue[0]
		c.dataQueue = c.dataQueue[1:]
		seq, payload := untagPayload(tagged)
		entry := &queueEntry{
			seq:      seq,
			waitAck:  true,
			payload:  payload,
			deadline: time.Now().Add(time.Duration(c.sendTimeoutMs) * time.Millisecond),
		}
		c.txQueue = append(c.txQueue, entry)
		f, err := l1.Encode(l1.TypeDATA, false, seq, payload)
		if err == nil {
			frames = append(frames, f)
		}
	}
	return frames
}
