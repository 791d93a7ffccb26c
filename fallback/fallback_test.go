package fallback

import (
	"errors"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/ardnew/softboot/internal/elfgen"
	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/target/sim"
)

func defaultImage() fstest.MapFS {
	img := elfgen.Image(0x20000001,
		elfgen.Segment{Type: elfgen.Load, Addr: 0x20000000, Data: []byte{0xFE, 0xE7}},
	)
	return fstest.MapFS{"default.elf": &fstest.MapFile{Data: img}}
}

func TestFiresAfterDelay(t *testing.T) {
	booted := make(chan uint32, 1)
	tgt := sim.New(nil, sim.WithOnExec(func(entry uint32) { booted <- entry }))

	arb := New(tgt, defaultImage(), "default.elf", 20*time.Millisecond)
	if err := arb.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	select {
	case entry := <-booted:
		if entry != 0x20000001 {
			t.Errorf("entry = %#x, want %#x", entry, 0x20000001)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("default image never booted")
	}
	if got := arb.State(); got != StateFiring {
		t.Errorf("State() = %s, want %s", got, StateFiring)
	}
	if !arb.Fired() {
		t.Error("Fired() = false after the default boot started")
	}
}

func TestDisarmPreventsFire(t *testing.T) {
	var fired atomic.Bool
	tgt := sim.New(nil, sim.WithOnExec(func(uint32) { fired.Store(true) }))

	arb := New(tgt, defaultImage(), "default.elf", 20*time.Millisecond)
	if err := arb.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if !arb.Disarm() {
		t.Fatal("Disarm() = false immediately after Arm")
	}
	if !arb.Disarm() {
		t.Error("second Disarm() = false, want idempotent true")
	}

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("default image booted after successful disarm")
	}
	if got := arb.State(); got != StateDisarmed {
		t.Errorf("State() = %s, want %s", got, StateDisarmed)
	}
	if arb.Fired() {
		t.Error("Fired() = true after a successful disarm")
	}
}

func TestDisarmAfterFireCommitted(t *testing.T) {
	firing := make(chan struct{})
	booted := make(chan struct{})
	tgt := sim.New(nil, sim.WithOnExec(func(uint32) { close(booted) }))

	arb := New(tgt, defaultImage(), "default.elf", time.Millisecond,
		WithSuspend(func() { close(firing) }))
	if err := arb.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	select {
	case <-firing:
	case <-time.After(5 * time.Second):
		t.Fatal("fallback never fired")
	}
	if arb.Disarm() {
		t.Error("Disarm() = true after the boot committed")
	}

	select {
	case <-booted:
	case <-time.After(5 * time.Second):
		t.Fatal("default image never booted")
	}
	if arb.Disarm() {
		t.Error("Disarm() = true after the boot completed")
	}
}

func TestMissingImageFails(t *testing.T) {
	failed := make(chan error, 1)
	tgt := sim.New(nil, sim.WithOnExec(func(uint32) { t.Error("booted a missing image") }))

	arb := New(tgt, fstest.MapFS{}, "default.elf", time.Millisecond,
		WithOnFailure(func(err error) { failed <- err }))
	if err := arb.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	select {
	case err := <-failed:
		if err == nil {
			t.Error("onFail invoked with nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onFail never invoked")
	}
	if got := arb.State(); got != StateFailed {
		t.Errorf("State() = %s, want %s", got, StateFailed)
	}
	// Nothing is booting anymore; uploads may proceed.
	if !arb.Disarm() {
		t.Error("Disarm() = false after failure")
	}
}

func TestCorruptImageFails(t *testing.T) {
	garbage := make([]byte, 64)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	fsys := fstest.MapFS{"default.elf": &fstest.MapFile{Data: garbage}}

	failed := make(chan error, 1)
	arb := New(sim.New(nil), fsys, "default.elf", time.Millisecond,
		WithOnFailure(func(err error) { failed <- err }))
	if err := arb.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	select {
	case err := <-failed:
		if !errors.Is(err, pkg.ErrNotELF) {
			t.Errorf("onFail error = %v, want %v", err, pkg.ErrNotELF)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onFail never invoked")
	}
}

func TestUnmappedImageFails(t *testing.T) {
	img := elfgen.Image(0x1,
		elfgen.Segment{Type: elfgen.Load, Addr: 0x50000000, Data: []byte{1, 2}},
	)
	fsys := fstest.MapFS{"default.elf": &fstest.MapFile{Data: img}}

	failed := make(chan error, 1)
	arb := New(sim.New(nil), fsys, "default.elf", time.Millisecond,
		WithOnFailure(func(err error) { failed <- err }))
	if err := arb.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	select {
	case err := <-failed:
		if !errors.Is(err, pkg.ErrUnmappedAddress) {
			t.Errorf("onFail error = %v, want %v", err, pkg.ErrUnmappedAddress)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onFail never invoked")
	}
}

func TestArmTwice(t *testing.T) {
	arb := New(sim.New(nil), defaultImage(), "default.elf", time.Hour)
	if err := arb.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if err := arb.Arm(); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Arm() error = %v, want %v", err, pkg.ErrAlreadyRunning)
	}
	arb.Disarm()
}

func TestArmAfterDisarm(t *testing.T) {
	arb := New(sim.New(nil), defaultImage(), "default.elf", time.Hour)
	if !arb.Disarm() {
		t.Fatal("Disarm() on idle arbiter = false")
	}
	if err := arb.Arm(); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("Arm() after Disarm error = %v, want %v", err, pkg.ErrAlreadyRunning)
	}
}

func TestDisarmRace(t *testing.T) {
	// However the race lands, Disarm() = true must mean the default
	// image never boots.
	fsys := defaultImage()
	for i := 0; i < 50; i++ {
		var fired atomic.Bool
		tgt := sim.New(nil, sim.WithOnExec(func(uint32) { fired.Store(true) }))

		arb := New(tgt, fsys, "default.elf", time.Millisecond)
		if err := arb.Arm(); err != nil {
			t.Fatalf("Arm() error = %v", err)
		}
		time.Sleep(time.Duration(i%4) * 400 * time.Microsecond)

		if arb.Disarm() {
			time.Sleep(10 * time.Millisecond)
			if fired.Load() {
				t.Fatal("default image booted after successful disarm")
			}
		}
	}
}
