package elf32

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softboot/pkg"
)

// ELF32 structure sizes. Images with a different program header entry
// size were produced for some other class or toolchain and are rejected
// rather than reinterpreted.
const (
	headerSize  = 52
	phEntrySize = 32
)

// ARM EABI version encoded in the high byte of e_flags. debug/elf does
// not define the EF_ARM_* flag constants, so the mask lives here.
const (
	eabiMask = 0xFF000000
	eabiVer5 = 0x05000000
)

// Copy is one segment copy of a load plan: Data placed at physical
// address Addr. Offset records where the data sits in the image file,
// for diagnostics. Data aliases the parsed image buffer.
type Copy struct {
	Addr   uint32
	Offset uint32
	Data   []byte
}

// LoadPlan is the result of interpreting an image: the copies to
// perform, in program header table order, and the address to jump to
// once they are done. An executable with no loadable data yields an
// empty Copies slice; booting it is a bare jump to Entry.
type LoadPlan struct {
	Entry  uint32
	Copies []Copy
}

// Size returns the total number of bytes the plan copies.
func (p *LoadPlan) Size() int {
	var n int
	for _, c := range p.Copies {
		n += len(c.Data)
	}
	return n
}

// Parse interprets img as an ELF32 little-endian ARM EABI v5 executable
// and returns its load plan. Segments that are not PT_LOAD, or that
// carry no file data, contribute no copy. Overlapping segments are kept
// in header order so a later segment overwrites an earlier one, exactly
// as the linker that emitted them intended.
func Parse(img []byte) (*LoadPlan, error) {
	if len(img) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d",
			pkg.ErrTruncatedImage, len(img), headerSize)
	}
	if string(img[:4]) != elf.ELFMAG {
		return nil, fmt.Errorf("%w: bad magic", pkg.ErrNotELF)
	}
	if c := elf.Class(img[elf.EI_CLASS]); c != elf.ELFCLASS32 {
		return nil, fmt.Errorf("%w: class %s", pkg.ErrNotELF, c)
	}
	if d := elf.Data(img[elf.EI_DATA]); d != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: encoding %s", pkg.ErrNotELF, d)
	}

	le := binary.LittleEndian
	if m := elf.Machine(le.Uint16(img[18:])); m != elf.EM_ARM {
		return nil, fmt.Errorf("%w: machine %s", pkg.ErrUnsupportedABI, m)
	}
	if flags := le.Uint32(img[36:]); flags&eabiMask != eabiVer5 {
		return nil, fmt.Errorf("%w: e_flags %#08x, want EABI v5",
			pkg.ErrUnsupportedABI, flags)
	}
	if sz := le.Uint16(img[42:]); sz != phEntrySize {
		return nil, fmt.Errorf("%w: program header entry size %d, want %d",
			pkg.ErrMalformedHeader, sz, phEntrySize)
	}

	phoff := le.Uint32(img[28:])
	phnum := le.Uint16(img[44:])
	if end := uint64(phoff) + uint64(phnum)*phEntrySize; end > uint64(len(img)) {
		return nil, fmt.Errorf("%w: program header table ends at %d, image is %d bytes",
			pkg.ErrTruncatedImage, end, len(img))
	}

	plan := &LoadPlan{Entry: le.Uint32(img[24:])}
	for i := 0; i < int(phnum); i++ {
		ph := img[phoff+uint32(i)*phEntrySize:]
		if elf.ProgType(le.Uint32(ph[0:])) != elf.PT_LOAD {
			continue
		}
		filesz := le.Uint32(ph[16:])
		if filesz == 0 {
			continue
		}
		off := le.Uint32(ph[4:])
		if uint64(off)+uint64(filesz) > uint64(len(img)) {
			return nil, fmt.Errorf("%w: segment %d spans [%#x, %#x), image is %d bytes",
				pkg.ErrTruncatedSegment, i, off, uint64(off)+uint64(filesz), len(img))
		}
		plan.Copies = append(plan.Copies, Copy{
			Addr:   le.Uint32(ph[12:]),
			Offset: off,
			Data:   img[off:][:filesz],
		})
	}
	return plan, nil
}
