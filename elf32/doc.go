// Package elf32 interprets uploaded ELF32 executables into load plans.
//
// [Parse] accepts a complete image held in memory and produces a
// [LoadPlan]: the entry point plus one [Copy] per loadable segment, in
// program header table order. Only little-endian ARM EABI v5
// executables are accepted; anything else is rejected with a sentinel
// from [github.com/ardnew/softboot/pkg] identifying what was wrong.
//
// Parse is pure. It never copies segment data: each [Copy.Data] slice
// aliases the image buffer, so the buffer must stay alive and unmodified
// until the plan has been applied.
package elf32
