package flash

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softboot/internal/elfgen"
	"github.com/ardnew/softboot/loader"
	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/target/sim"
	"github.com/ardnew/softboot/transport"
	"github.com/ardnew/softboot/transport/loopback"
	"github.com/ardnew/softboot/wire"
)

type fixture struct {
	host   *loopback.Host
	tgt    *sim.Target
	booted chan uint32
}

// startDevice runs a loader over a loopback pipe and hands back the
// host end.
func startDevice(t *testing.T, opts ...loader.Option) *fixture {
	t.Helper()

	dev, host := loopback.New()
	booted := make(chan uint32, 1)
	tgt := sim.New(nil, sim.WithOnExec(func(entry uint32) { booted <- entry }))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	if err := host.Open(ctx); err != nil {
		t.Fatal(err)
	}
	go loader.New(dev, tgt, opts...).Run(ctx)
	t.Cleanup(func() { dev.Stop() })

	return &fixture{host: host, tgt: tgt, booted: booted}
}

func (f *fixture) waitBoot(t *testing.T) uint32 {
	t.Helper()
	select {
	case entry := <-f.booted:
		return entry
	case <-time.After(5 * time.Second):
		t.Fatal("image never booted")
		return 0
	}
}

func testImage() (img, payload []byte, entry uint32) {
	payload = make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	entry = 0x00000401
	return elfgen.Image(entry,
		elfgen.Segment{Type: elfgen.Load, Addr: 0x00000400, Data: payload},
	), payload, entry
}

func TestFlashAndBoot(t *testing.T) {
	f := startDevice(t)
	img, payload, entry := testImage()

	var calls [][2]int
	c := New(WithProgress(func(sent, total int) {
		calls = append(calls, [2]int{sent, total})
	}))

	if err := c.Flash(context.Background(), f.host, img); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if got := f.waitBoot(t); got != entry {
		t.Errorf("entry = %#x, want %#x", got, entry)
	}

	mem, err := f.tgt.Bytes(0x00000400, uint32(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mem, payload) {
		t.Error("flashed segment does not match source")
	}

	if len(calls) < 2 {
		t.Fatalf("progress calls = %d, want at least 2", len(calls))
	}
	if calls[0] != [2]int{0, len(img)} {
		t.Errorf("first progress = %v, want [0 %d]", calls[0], len(img))
	}
	if last := calls[len(calls)-1]; last != [2]int{len(img), len(img)} {
		t.Errorf("last progress = %v, want [%d %d]", last, len(img), len(img))
	}
	for i := 1; i < len(calls); i++ {
		if calls[i][0] < calls[i-1][0] {
			t.Fatalf("progress went backward: %v after %v", calls[i], calls[i-1])
		}
	}
}

func TestFlashSmallChunks(t *testing.T) {
	f := startDevice(t)
	img, payload, _ := testImage()

	c := New(WithChunkSize(7))
	if err := c.Flash(context.Background(), f.host, img); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	f.waitBoot(t)

	mem, err := f.tgt.Bytes(0x00000400, uint32(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mem, payload) {
		t.Error("flashed segment does not match source")
	}
}

func TestFlashOverCapacity(t *testing.T) {
	f := startDevice(t, loader.WithCapacity(64))
	img, _, _ := testImage()

	err := New().Flash(context.Background(), f.host, img)
	if !errors.Is(err, pkg.ErrAllocationFailed) {
		t.Fatalf("Flash() error = %v, want %v", err, pkg.ErrAllocationFailed)
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Flash() error = %T, want *StatusError", err)
	}
	if se.Status.Stage != wire.StageSession {
		t.Errorf("stage = %s, want %s", se.Status.Stage, wire.StageSession)
	}
}

func TestFlashCorruptImage(t *testing.T) {
	f := startDevice(t)

	garbage := bytes.Repeat([]byte{0xA5}, 128)
	err := New().Flash(context.Background(), f.host, garbage)
	if !errors.Is(err, pkg.ErrNotELF) {
		t.Fatalf("Flash() error = %v, want %v", err, pkg.ErrNotELF)
	}
}

// fakeHost accepts every report and never produces a status.
type fakeHost struct {
	sends int
}

var _ transport.Host = (*fakeHost)(nil)

func (f *fakeHost) Open(ctx context.Context) error { return nil }
func (f *fakeHost) Close() error                   { return nil }

func (f *fakeHost) SendReport(ctx context.Context, data []byte) (int, error) {
	f.sends++
	return len(data), nil
}

func (f *fakeHost) ReadReport(ctx context.Context, buf []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestFlashELFRejectsLocally(t *testing.T) {
	h := &fakeHost{}
	garbage := bytes.Repeat([]byte{0xFF}, 64)

	err := New().FlashELF(context.Background(), h, garbage)
	if !errors.Is(err, pkg.ErrNotELF) {
		t.Fatalf("FlashELF() error = %v, want %v", err, pkg.ErrNotELF)
	}
	if h.sends != 0 {
		t.Errorf("sends = %d, want 0 for a locally rejected image", h.sends)
	}
}

func TestFlashSuccessBySilence(t *testing.T) {
	img, _, _ := testImage()
	c := New(WithStatusWait(50 * time.Millisecond))

	if err := c.Flash(context.Background(), &fakeHost{}, img); err != nil {
		t.Fatalf("Flash() error = %v, want success on a quiet pipe", err)
	}
}

func TestFlashCancelledDuringWait(t *testing.T) {
	img, _, _ := testImage()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := New().Flash(ctx, &fakeHost{}, img)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Flash() error = %v, want %v", err, context.Canceled)
	}
}

func TestFlashStatusWaitZero(t *testing.T) {
	f := startDevice(t)
	img, _, entry := testImage()

	c := New(WithStatusWait(0))
	if err := c.Flash(context.Background(), f.host, img); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	// The verdict was never read, but the device still boots.
	if got := f.waitBoot(t); got != entry {
		t.Errorf("entry = %#x, want %#x", got, entry)
	}
}

func TestStatusErrorUnwrap(t *testing.T) {
	tests := []struct {
		result pkg.Result
		want   error
	}{
		{pkg.ResultNotELF, pkg.ErrNotELF},
		{pkg.ResultUnmapped, pkg.ErrUnmappedAddress},
		{pkg.ResultOutOfBounds, pkg.ErrOutOfBounds},
		{pkg.ResultSuperseded, pkg.ErrSuperseded},
	}
	for _, tt := range tests {
		err := &StatusError{Status: wire.Status{Result: tt.result}}
		if !errors.Is(err, tt.want) {
			t.Errorf("StatusError{%s}: errors.Is(%v) = false", tt.result, tt.want)
		}
	}
}
