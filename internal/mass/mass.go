// Package mass implements the bulk-transfer engine of spec §4.6: the
// prepare handshake, the spec's on-wire inner/fragment encoding, windowed
// slice transmission over the MASS L2 channel, and install-result
// correlation, with a resume record keyed by the transfer's MD5 so an
// interrupted upload can pick up at the next unconfirmed fragment.
package mass

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash/crc32"
	"sync"
	"time"

	"github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l2"
)

// Error is a diagnostic raised by the engine, distinguished from a device's
// own rejection codes (PrepareStatusCode / InstallResultCode).
type Error struct{ Reason string }

func (e *Error) Error() string { return "mass: " + e.Reason }

var (
	ErrBusy           = &Error{"a transfer is already in flight for this device"}
	ErrDeviceNotReady = &Error{"device rejected prepare request"}
	ErrInstallFailed  = &Error{"device reported install failure"}
	ErrAckTimeout     = &Error{"timed out waiting for fragment acknowledgement"}
)

// Wire layout constants (spec §4.6.2/§4.6.3).
const (
	innerReserved   = 0x00
	innerHeaderLen  = 1 + 1 + 16 + 4 // reserved ∥ data_type_tag ∥ md5 ∥ length_LE
	innerCRCLen     = 4
	fragmentHdrLen  = 2 + 2 // total_parts_LE ∥ current_part_LE
	l2FrameOverhead = 2     // 1-byte channel, 1-byte opcode (spec §4.6.3)
)

// SAR is the subset of *sar.Controller the engine drives fragments through.
type SAR interface {
	EnqueueBatch(payloads [][]byte) []byte
	IsAcked(seq byte) bool
	MarkAckConsumed(seq byte)
	TxWindowSize() uint16
	SendTimeoutMs() uint16
}

// Sender writes one PB packet (TypeMass) to the device.
type Sender func(pb.Packet) error

// Config seeds the windowed-scheduling parameters of spec §6's mass section.
type Config struct {
	AckWaitTimeout       time.Duration // ack_wait_timeout_secs, default 30s
	AckPollInterval      time.Duration // ack_poll_interval_ms, default 50ms
	AckStallDefaultMs    int           // ack_stall_default_ms, used when no window is negotiated yet
	AckStallMinMs        int           // ack_stall_min_ms
	AckStallMaxMs        int           // ack_stall_max_ms
	BacklogMultiplier    int           // backlog_multiplier
	MaxBatchParts        int           // max_batch_parts
	FallbackBatchParts   int           // fallback_batch_parts
	FallbackBacklogLimit int           // fallback_backlog_limit
	FallbackSliceLength  uint32        // used when a prepare ack carries no slice length (OTA/icon)
}

func (c Config) withDefaults() Config {
	if c.AckWaitTimeout == 0 {
		c.AckWaitTimeout = 30 * time.Second
	}
	if c.AckPollInterval == 0 {
		c.AckPollInterval = 50 * time.Millisecond
	}
	if c.AckStallDefaultMs == 0 {
		c.AckStallDefaultMs = 400
	}
	if c.AckStallMinMs == 0 {
		c.AckStallMinMs = 120
	}
	if c.AckStallMaxMs == 0 {
		c.AckStallMaxMs = 900
	}
	if c.BacklogMultiplier == 0 {
		c.BacklogMultiplier = 6
	}
	if c.MaxBatchParts == 0 {
		c.MaxBatchParts = 32
	}
	if c.FallbackBatchParts == 0 {
		c.FallbackBatchParts = 8
	}
	if c.FallbackBacklogLimit == 0 {
		c.FallbackBacklogLimit = 96
	}
	if c.FallbackSliceLength == 0 {
		c.FallbackSliceLength = 244
	}
	return c
}

// schedule derives the batch size, backlog ceiling, and stall deadline for
// the current SAR window (spec §4.6.5). window==0 means no window has been
// negotiated yet, so the fallback_* keys apply directly instead of scaling
// off it.
func (c Config) schedule(window, sendTimeoutMs uint16) (batchLimit, backlogSoft int, ackStall time.Duration) {
	if window == 0 {
		return clampInt(c.FallbackBatchParts, 1, c.MaxBatchParts),
			clampInt(c.FallbackBacklogLimit, c.BacklogMultiplier, 256),
			time.Duration(c.AckStallDefaultMs) * time.Millisecond
	}
	w := int(window)
	batchLimit = clampInt(w, 1, c.MaxBatchParts)
	backlogSoft = clampInt(w*c.BacklogMultiplier, c.BacklogMultiplier, 256)
	fromWindow := time.Duration(w) * c.AckPollInterval * 3
	fromTimeout := time.Duration(sendTimeoutMs) * time.Millisecond / 8
	stall := fromWindow
	if fromTimeout < stall {
		stall = fromTimeout
	}
	ackStall = clampDuration(stall, time.Duration(c.AckStallMinMs)*time.Millisecond, time.Duration(c.AckStallMaxMs)*time.Millisecond)
	return
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ResumeRecord tracks the next 1-based fragment due to be sent for a named
// transfer, keyed by its content hash so a retry of the same file resumes
// instead of restarting (spec §4.6.4).
type ResumeRecord struct {
	MD5         [16]byte
	CurrentPart uint16
}

// prepareAck unifies the three possible prepare acknowledgements (watchface/
// thirdparty PrepareResponse, firmware PrepareOtaResponse, notification-icon
// AppIconResponse) into the two fields Upload actually needs.
type prepareAck struct {
	sliceLen uint32
	status   pb.PrepareStatusCode
}

// Engine drives one device's MASS channel.
type Engine struct {
	mu    sync.Mutex
	sar   SAR
	send  Sender
	codec pb.Codec
	cfg   Config
	log   *logging.Logger

	// refreshQuickApps is invoked after a successful third-party-app
	// install, mirroring the device's own habit of re-surfacing newly
	// installed apps on its quick-app screen once the resource list has
	// changed (spec §4.6.7).
	refreshQuickApps func()

	busy    bool
	resumes map[string]ResumeRecord

	preparePending          chan prepareAck
	installResponsePending chan pb.InstallResponse
	installPending          chan pb.InstallResult
}

func NewEngine(sarCtl SAR, send Sender, codec pb.Codec, cfg Config, refreshQuickApps func(), log *logging.Logger) *Engine {
	if codec == nil {
		codec = pb.DefaultCodec
	}
	return &Engine{
		sar:              sarCtl,
		send:             send,
		codec:            codec,
		cfg:              cfg.withDefaults(),
		refreshQuickApps: refreshQuickApps,
		log:              log,
		resumes:          make(map[string]ResumeRecord),
	}
}

// OnPacket is the TypeMass handler registered with the dispatcher.
func (e *Engine) OnPacket(p pb.Packet) {
	if p.Type != pb.TypeMass {
		return
	}
	switch p.ID {
	case pb.OpPrepareResponse:
		var resp pb.PrepareResponse
		if err := pb.Decode(p, &resp, e.codec); err != nil {
			return
		}
		e.deliverPrepare(prepareAck{sliceLen: resp.ExpectedSliceLength, status: resp.Status})
	case pb.OpPrepareOtaResponse:
		var resp pb.PrepareOtaResponse
		if err := pb.Decode(p, &resp, e.codec); err != nil {
			return
		}
		e.deliverPrepare(prepareAck{status: resp.Status})
	case pb.OpAppIconResponse:
		var resp pb.AppIconResponse
		if err := pb.Decode(p, &resp, e.codec); err != nil {
			return
		}
		e.deliverPrepare(prepareAck{status: resp.Status})
	case pb.OpInstallResponse:
		var resp pb.InstallResponse
		if err := pb.Decode(p, &resp, e.codec); err != nil {
			return
		}
		e.mu.Lock()
		ch := e.installResponsePending
		e.mu.Unlock()
		if ch != nil {
			select {
			case ch <- resp:
			default:
			}
		}
	case pb.OpInstallResult:
		var res pb.InstallResult
		if err := pb.Decode(p, &res, e.codec); err != nil {
			return
		}
		e.mu.Lock()
		ch := e.installPending
		e.mu.Unlock()
		if ch != nil {
			select {
			case ch <- res:
			default:
			}
		}
	}
}

func (e *Engine) deliverPrepare(ack prepareAck) {
	e.mu.Lock()
	ch := e.preparePending
	e.mu.Unlock()
	if ch != nil {
		select {
		case ch <- ack:
		default:
		}
	}
}

// Upload runs the full prepare/transfer/install sequence for data, blocking
// until the device confirms installation (or, for firmware/notification-icon
// transfers, until the bytes have all landed) or ctx is cancelled.
func (e *Engine) Upload(ctx context.Context, dataType pb.MassDataType, data []byte) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	e.busy = true
	prepareCh := make(chan prepareAck, 1)
	installResponseCh := make(chan pb.InstallResponse, 1)
	installCh := make(chan pb.InstallResult, 1)
	e.preparePending = prepareCh
	e.installResponsePending = installResponseCh
	e.installPending = installCh
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.busy = false
		e.preparePending = nil
		e.installResponsePending = nil
		e.installPending = nil
		e.mu.Unlock()
	}()

	sum := md5.Sum(data)
	resumeKey := hex.EncodeToString(sum[:])

	session := uuid.NewV4()
	if e.log != nil {
		e.log.Info("mass: session", session, "starting upload, data_type", dataType, "bytes", len(data))
	}

	req, err := pb.Encode(pb.TypeMass, pb.OpPrepareRequest, pb.PrepareRequest{
		DataType:    dataType,
		MD5:         sum[:],
		TotalLength: uint32(len(data)),
		Compression: false,
	}, e.codec)
	if err != nil {
		return err
	}
	if err := e.send(req); err != nil {
		return err
	}

	var ack prepareAck
	select {
	case ack = <-prepareCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ack.status != pb.PrepareReady {
		return ErrDeviceNotReady
	}
	sliceLen := ack.sliceLen
	if sliceLen == 0 {
		// OTA/icon prepare acks carry no slice length of their own.
		sliceLen = e.cfg.FallbackSliceLength
	}
	if int(sliceLen) <= fragmentHdrLen+l2FrameOverhead {
		return ErrDeviceNotReady
	}
	sliceMax := int(sliceLen) - fragmentHdrLen - l2FrameOverhead

	inner := encodeInner(dataType, sum, data)
	totalParts := uint16(ceilDiv(len(inner), sliceMax))
	if totalParts == 0 {
		totalParts = 1
	}

	startPart := uint16(1)
	if rec, ok := e.resumes[resumeKey]; ok && rec.MD5 == sum && rec.CurrentPart >= 1 && rec.CurrentPart <= totalParts {
		startPart = rec.CurrentPart
		if e.log != nil {
			e.log.Info("mass: session", session, "resuming at current_part", startPart, "of", totalParts)
		}
	}

	if err := e.transferFragments(ctx, inner, sliceMax, totalParts, startPart, resumeKey, sum); err != nil {
		return err
	}
	delete(e.resumes, resumeKey)

	switch dataType {
	case pb.MassDataFirmware, pb.MassDataNotificationIcon:
		// spec §4.6.7: neither path has a final InstallResult to wait on.
		if e.log != nil {
			e.log.Info("mass: session", session, "transfer complete")
		}
		return nil
	case pb.MassDataThirdpartyApp:
		var resp pb.InstallResponse
		select {
		case resp = <-installResponseCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !resp.Accepted {
			return ErrInstallFailed
		}
	}

	var result pb.InstallResult
	select {
	case result = <-installCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if result.Code != pb.InstallSuccess {
		if result.Code == pb.InstallUsed {
			if e.log != nil {
				e.log.Info("mass: session", session, "already installed")
			}
			return nil
		}
		if e.log != nil {
			e.log.Warning("mass: session", session, "install failed, code", result.Code)
		}
		return ErrInstallFailed
	}
	if dataType == pb.MassDataThirdpartyApp && e.refreshQuickApps != nil {
		go e.refreshQuickApps()
	}
	if e.log != nil {
		e.log.Info("mass: session", session, "installed")
	}
	return nil
}

// pendingFragment is one in-flight fragment: its SAR sequence and its
// 1-based position in the transfer.
type pendingFragment struct {
	seq  byte
	part uint16
}

// transferFragments implements spec §4.6.5's windowed/batched scheduling:
// enqueue up to batchLimit fragments at a time, consume already-ACKed
// fragments from the head of the pending queue after each batch, and block
// on the head's ACK whenever the backlog grows past its soft limit or no
// fragment has been confirmed within the stall deadline. The resume record
// is advanced as each fragment is confirmed and cleared once the last one
// lands.
func (e *Engine) transferFragments(ctx context.Context, inner []byte, sliceMax int, totalParts, startPart uint16, resumeKey string, sum [16]byte) error {
	window := e.sar.TxWindowSize()
	sendTimeoutMs := e.sar.SendTimeoutMs()
	batchLimit, backlogSoft, ackStall := e.cfg.schedule(window, sendTimeoutMs)

	var pending []pendingFragment
	lastProgress := time.Now()
	part := startPart

	consume := func() bool {
		progressed := false
		for len(pending) > 0 && e.sar.IsAcked(pending[0].seq) {
			head := pending[0]
			e.sar.MarkAckConsumed(head.seq)
			pending = pending[1:]
			next := head.part + 1
			if next > totalParts {
				delete(e.resumes, resumeKey)
			} else {
				e.resumes[resumeKey] = ResumeRecord{MD5: sum, CurrentPart: next}
			}
			progressed = true
		}
		return progressed
	}

	waitHeadAcked := func() error {
		if len(pending) == 0 {
			return nil
		}
		deadline := time.Now().Add(e.cfg.AckWaitTimeout)
		ticker := time.NewTicker(e.cfg.AckPollInterval)
		defer ticker.Stop()
		for !e.sar.IsAcked(pending[0].seq) {
			if time.Now().After(deadline) {
				return ErrAckTimeout
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		return nil
	}

	for part <= totalParts {
		batch := make([][]byte, 0, batchLimit)
		parts := make([]uint16, 0, batchLimit)
		for len(batch) < batchLimit && part <= totalParts {
			start := int(part-1) * sliceMax
			end := start + sliceMax
			if end > len(inner) {
				end = len(inner)
			}
			frag := encodeFragment(totalParts, part, inner[start:end])
			batch = append(batch, l2.Encode(l2.ChannelMass, l2.OpWrite, frag))
			parts = append(parts, part)
			part++
		}
		seqs := e.sar.EnqueueBatch(batch)
		for i, seq := range seqs {
			pending = append(pending, pendingFragment{seq: seq, part: parts[i]})
		}

		if consume() {
			lastProgress = time.Now()
		}
		stalled := time.Since(lastProgress) >= ackStall
		if len(pending) > backlogSoft || stalled {
			if err := waitHeadAcked(); err != nil {
				return err
			}
			if consume() {
				lastProgress = time.Now()
			}
		}
	}

	for len(pending) > 0 {
		if err := waitHeadAcked(); err != nil {
			return err
		}
		consume()
	}
	return nil
}

// encodeInner builds the MASS inner payload (spec §4.6.2):
// [0x00 ∥ data_type_tag ∥ md5(16) ∥ length_LE(4) ∥ file_bytes ∥ crc32_LE(4)],
// with the trailing CRC-32 (IEEE, equivalent to ISO-HDLC) computed over
// everything preceding it.
func encodeInner(dataType pb.MassDataType, sum [16]byte, data []byte) []byte {
	out := make([]byte, innerHeaderLen+len(data)+innerCRCLen)
	out[0] = innerReserved
	out[1] = byte(dataType)
	copy(out[2:18], sum[:])
	binary.LittleEndian.PutUint32(out[18:innerHeaderLen], uint32(len(data)))
	copy(out[innerHeaderLen:], data)
	crc := crc32.ChecksumIEEE(out[:innerHeaderLen+len(data)])
	binary.LittleEndian.PutUint32(out[innerHeaderLen+len(data):], crc)
	return out
}

// DecodeInner reverses encodeInner, validating the trailing CRC-32. It is
// exported for tests and for an embedding app that wants to replay a capture.
func DecodeInner(frame []byte) (dataType pb.MassDataType, sum [16]byte, data []byte, err error) {
	if len(frame) < innerHeaderLen+innerCRCLen {
		return 0, sum, nil, errors.New("mass: inner frame too short")
	}
	body := frame[:len(frame)-innerCRCLen]
	wantCRC := binary.LittleEndian.Uint32(frame[len(frame)-innerCRCLen:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return 0, sum, nil, errors.New("mass: inner CRC mismatch")
	}
	dataType = pb.MassDataType(body[1])
	copy(sum[:], body[2:18])
	length := binary.LittleEndian.Uint32(body[18:innerHeaderLen])
	if int(length) != len(body)-innerHeaderLen {
		return 0, sum, nil, errors.New("mass: inner length field mismatch")
	}
	data = append([]byte{}, body[innerHeaderLen:]...)
	return dataType, sum, data, nil
}

// encodeFragment builds one on-the-wire MASS fragment (spec §4.6.3):
// [total_parts_LE(2) ∥ current_part_LE(2) ∥ slice].
func encodeFragment(totalParts, currentPart uint16, slice []byte) []byte {
	out := make([]byte, fragmentHdrLen+len(slice))
	binary.LittleEndian.PutUint16(out[0:2], totalParts)
	binary.LittleEndian.PutUint16(out[2:4], currentPart)
	copy(out[fragmentHdrLen:], slice)
	return out
}

// DecodeFragment reverses encodeFragment.
func DecodeFragment(frame []byte) (totalParts, currentPart uint16, slice []byte, err error) {
	if len(frame) < fragmentHdrLen {
		return 0, 0, nil, errors.New("mass: fragment frame too short")
	}
	totalParts = binary.LittleEndian.Uint16(frame[0:2])
	currentPart = binary.LittleEndian.Uint16(frame[2:4])
	slice = append([]byte{}, frame[fragmentHdrLen:]...)
	return totalParts, currentPart, slice, nil
}
