package mass

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
)

// fakeSAR auto-acks every enqueued sequence immediately, simulating an SAR
// controller whose transport never drops a frame.
type fakeSAR struct {
	mu      sync.Mutex
	next    byte
	acked   map[byte]bool
	enqueue [][]byte
	window  uint16
}

func newFakeSAR() *fakeSAR { return &fakeSAR{acked: make(map[byte]bool)} }

func (f *fakeSAR) EnqueueBatch(payloads [][]byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs := make([]byte, len(payloads))
	for i, p := range payloads {
		seq := f.next
		f.next++
		f.enqueue = append(f.enqueue, p)
		f.acked[seq] = true
		seqs[i] = seq
	}
	return seqs
}

func (f *fakeSAR) IsAcked(seq byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked[seq]
}

func (f *fakeSAR) MarkAckConsumed(seq byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.acked, seq)
}

func (f *fakeSAR) TxWindowSize() uint16 { return f.window }
func (f *fakeSAR) SendTimeoutMs() uint16 { return 1000 }

func testConfig() Config {
	return Config{AckWaitTimeout: 2 * time.Second, AckPollInterval: 5 * time.Millisecond}
}

func TestUploadHappyPath(t *testing.T) {
	sarCtl := newFakeSAR()
	codec := pb.JSONCodec{}
	var engine *Engine

	send := func(p pb.Packet) error {
		if p.Type == pb.TypeMass && p.ID == pb.OpPrepareRequest {
			resp, _ := pb.Encode(pb.TypeMass, pb.OpPrepareResponse, pb.PrepareResponse{
				ExpectedSliceLength: 30, // leaves room for a couple of fragments
				Status:              pb.PrepareReady,
			}, codec)
			go engine.OnPacket(resp)
		}
		return nil
	}
	engine = NewEngine(sarCtl, send, codec, testConfig(), nil, nil)

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- engine.Upload(context.Background(), pb.MassDataWatchface, data)
	}()

	time.Sleep(50 * time.Millisecond)
	result, _ := pb.Encode(pb.TypeMass, pb.OpInstallResult, pb.InstallResult{
		DataType: pb.MassDataWatchface,
		Code:     pb.InstallSuccess,
	}, codec)
	engine.OnPacket(result)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Upload did not complete in time")
	}

	if len(sarCtl.enqueue) == 0 {
		t.Fatal("expected at least one fragment enqueued")
	}

	totalParts, currentPart, slice, err := DecodeFragment(sarCtl.enqueue[0][l2FrameOverhead:])
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if currentPart != 1 || totalParts == 0 || len(slice) == 0 {
		t.Fatalf("unexpected first fragment: total=%d current=%d len=%d", totalParts, currentPart, len(slice))
	}
}

func TestUploadRejectedByDevice(t *testing.T) {
	sarCtl := newFakeSAR()
	codec := pb.JSONCodec{}
	var engine *Engine

	send := func(p pb.Packet) error {
		if p.ID == pb.OpPrepareRequest {
			resp, _ := pb.Encode(pb.TypeMass, pb.OpPrepareResponse, pb.PrepareResponse{
				Status: pb.PrepareBadRequest,
			}, codec)
			go engine.OnPacket(resp)
		}
		return nil
	}
	engine = NewEngine(sarCtl, send, codec, testConfig(), nil, nil)

	err := engine.Upload(context.Background(), pb.MassDataThirdpartyApp, []byte("x"))
	if err != ErrDeviceNotReady {
		t.Fatalf("expected ErrDeviceNotReady, got %v", err)
	}
}

func TestUploadBusyRejectsConcurrent(t *testing.T) {
	sarCtl := newFakeSAR()
	codec := pb.JSONCodec{}
	send := func(p pb.Packet) error { return nil } // never answers prepare
	engine := NewEngine(sarCtl, send, codec, testConfig(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	go engine.Upload(ctx, pb.MassDataFirmware, []byte("data"))
	time.Sleep(5 * time.Millisecond)

	if err := engine.Upload(context.Background(), pb.MassDataFirmware, []byte("data")); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

// TestUploadFirmwareSkipsInstallResult exercises the OTA path: the prepare
// ack is a PrepareOtaResponse (no expected_slice_length), and no final
// InstallResult is awaited once the transfer completes (spec §4.6.7).
func TestUploadFirmwareSkipsInstallResult(t *testing.T) {
	sarCtl := newFakeSAR()
	codec := pb.JSONCodec{}
	var engine *Engine

	send := func(p pb.Packet) error {
		if p.ID == pb.OpPrepareRequest {
			resp, _ := pb.Encode(pb.TypeMass, pb.OpPrepareOtaResponse, pb.PrepareOtaResponse{
				Status: pb.PrepareReady,
			}, codec)
			go engine.OnPacket(resp)
		}
		return nil
	}
	engine = NewEngine(sarCtl, send, codec, testConfig(), nil, nil)

	err := engine.Upload(context.Background(), pb.MassDataFirmware, []byte("firmware bytes"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
}

// TestUploadResumesAtInterruptedPart seeds a resume record at current_part=11
// for a 1 MiB payload and checks that a transfer started from that part
// sends part 11 first instead of part 1. It calls transferFragments
// directly; Upload's own lookup of the resume record is not exercised here.
func TestUploadResumesAtInterruptedPart(t *testing.T) {
	sarCtl := newFakeSAR()
	codec := pb.JSONCodec{}
	data := make([]byte, 1<<20) // 1 MiB, matching the spec scenario
	sum := md5Sum(data)

	resumeKey := hex.EncodeToString(sum[:])
	engine := NewEngine(sarCtl, func(pb.Packet) error { return nil }, codec, testConfig(), nil, nil)
	engine.resumes[resumeKey] = ResumeRecord{MD5: sum, CurrentPart: 11}

	inner := encodeInner(pb.MassDataWatchface, sum, data)
	sliceMax := 244 - fragmentHdrLen - l2FrameOverhead
	totalParts := uint16(ceilDiv(len(inner), sliceMax))

	if err := engine.transferFragments(context.Background(), inner, sliceMax, totalParts, 11, resumeKey, sum); err != nil {
		t.Fatalf("transferFragments: %v", err)
	}

	_, firstPart, _, err := DecodeFragment(sarCtl.enqueue[0][l2FrameOverhead:])
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if firstPart != 11 {
		t.Fatalf("expected resume to start at current_part=11, got %d", firstPart)
	}
}

func TestEncodeDecodeInnerRoundTrip(t *testing.T) {
	sum := md5Sum([]byte("hello world"))
	frame := encodeInner(pb.MassDataWatchface, sum, []byte("hello world"))

	dataType, gotSum, data, err := DecodeInner(frame)
	if err != nil {
		t.Fatalf("DecodeInner: %v", err)
	}
	if dataType != pb.MassDataWatchface || gotSum != sum || string(data) != "hello world" {
		t.Fatalf("round trip mismatch: type=%v sum=%x data=%q", dataType, gotSum, data)
	}

	frame[len(frame)-1] ^= 0xFF
	if _, _, _, err := DecodeInner(frame); err == nil {
		t.Fatal("expected CRC mismatch error on tampered frame")
	}
}

func TestEncodeDecodeFragmentRoundTrip(t *testing.T) {
	frame := encodeFragment(5, 2, []byte("slice-bytes"))
	totalParts, currentPart, slice, err := DecodeFragment(frame)
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if totalParts != 5 || currentPart != 2 || string(slice) != "slice-bytes" {
		t.Fatalf("round trip mismatch: total=%d current=%d slice=%q", totalParts, currentPart, slice)
	}
}

func TestZeroLengthUploadSendsSingleFragment(t *testing.T) {
	sum := md5Sum(nil)
	inner := encodeInner(pb.MassDataNotificationIcon, sum, nil)
	sliceMax := 244 - fragmentHdrLen - l2FrameOverhead
	totalParts := uint16(ceilDiv(len(inner), sliceMax))
	if totalParts != 1 {
		t.Fatalf("expected a single fragment for a zero-length payload, got %d", totalParts)
	}
}

func md5Sum(b []byte) [16]byte { return md5.Sum(b) }
