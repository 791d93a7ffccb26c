// Package boot applies a load plan to a target: validate every segment
// against the memory map, copy the segments in plan order, and hand
// control to the image.
package boot

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/softboot/elf32"
	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/target"
)

// Validate checks that every copy of the plan lands wholly inside the
// target's writable memory. It writes nothing, so a rejected plan
// leaves the target exactly as it was.
func Validate(mem target.Memory, plan *elf32.LoadPlan) error {
	for i, c := range plan.Copies {
		if err := mem.CheckWrite(c.Addr, uint32(len(c.Data))); err != nil {
			return fmt.Errorf("segment %d (%s at %#08x): %w",
				i, humanize.IBytes(uint64(len(c.Data))), c.Addr, err)
		}
	}
	return nil
}

// Execute applies the plan and transfers control. It never returns.
//
// Copies happen in plan order, so overlapping segments resolve the way
// the image's linker laid them out. A write failing after validation
// means target memory is now half-written with no way back, so Execute
// panics instead of continuing.
func Execute(tgt target.Target, plan *elf32.LoadPlan) {
	for i, c := range plan.Copies {
		if err := tgt.WriteAt(c.Addr, c.Data); err != nil {
			panic(fmt.Sprintf("boot: segment %d write at %#08x failed after validation: %v",
				i, c.Addr, err))
		}
	}
	pkg.LogInfo(pkg.ComponentBoot, "image loaded",
		"segments", len(plan.Copies),
		"size", humanize.IBytes(uint64(plan.Size())),
		"entry", fmt.Sprintf("%#08x", plan.Entry))
	tgt.Exec(plan.Entry)
}

// Start boots the plan on a new goroutine: validate, then execute. If
// validation fails, no memory has been touched and onFail receives the
// cause; otherwise the goroutine loads the image and never comes back.
// onFail may be nil.
func Start(tgt target.Target, plan *elf32.LoadPlan, onFail func(error)) {
	go func() {
		if err := Validate(tgt, plan); err != nil {
			pkg.LogError(pkg.ComponentBoot, "image rejected", "error", err)
			if onFail != nil {
				onFail(err)
			}
			return
		}
		Execute(tgt, plan)
	}()
}
