// Package elfgen assembles minimal ELF32 executables for tests and
// examples. Generated images are little-endian ARM EABI5 with the
// program header table immediately after the ELF header and segment
// data packed after the table.
package elfgen

import "encoding/binary"

// Program header type values used by generated images.
const (
	Null = 0 // PT_NULL
	Load = 1 // PT_LOAD
	Note = 4 // PT_NOTE
)

// Segment describes one program header in a generated image. FileSize
// is len(Data); MemExtra adds zero-fill beyond it, so a Segment with
// nil Data and nonzero MemExtra produces a header with p_filesz == 0.
type Segment struct {
	Type     uint32
	Addr     uint32 // used for both p_vaddr and p_paddr
	Data     []byte
	MemExtra uint32
}

// Image assembles an ELF32 executable with the given entry point and
// segments, in header order.
func Image(entry uint32, segs ...Segment) []byte {
	le := binary.LittleEndian

	const ehSize, phSize = 52, 32
	phoff := uint32(ehSize)
	dataOff := phoff + uint32(len(segs))*phSize
	total := dataOff
	for _, s := range segs {
		total += uint32(len(s.Data))
	}

	buf := make([]byte, total)
	copy(buf, "\x7fELF")
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	le.PutUint16(buf[16:], 2)  // ET_EXEC
	le.PutUint16(buf[18:], 40) // EM_ARM
	le.PutUint32(buf[20:], 1)  // EV_CURRENT
	le.PutUint32(buf[24:], entry)
	le.PutUint32(buf[28:], phoff)
	le.PutUint32(buf[36:], 0x05000000) // EF_ARM EABI v5
	le.PutUint16(buf[40:], ehSize)
	le.PutUint16(buf[42:], phSize)
	le.PutUint16(buf[44:], uint16(len(segs)))

	off := dataOff
	for i, s := range segs {
		ph := buf[phoff+uint32(i)*phSize:]
		le.PutUint32(ph[0:], s.Type)
		le.PutUint32(ph[4:], off)
		le.PutUint32(ph[8:], s.Addr)
		le.PutUint32(ph[12:], s.Addr)
		le.PutUint32(ph[16:], uint32(len(s.Data)))
		le.PutUint32(ph[20:], uint32(len(s.Data))+s.MemExtra)
		le.PutUint32(ph[24:], 0x5) // PF_R | PF_X
		le.PutUint32(ph[28:], 4)
		copy(buf[off:], s.Data)
		off += uint32(len(s.Data))
	}
	return buf
}
