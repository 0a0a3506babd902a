// reloc.go - relocation section builder (.rel.* / .rela.*)
package relf

import "fmt"

const (
	rel32Size  = 8  // sizeof(Elf32_Rel)
	rela64Size = 24 // sizeof(Elf64_Rela)
)

// Fixup is one pending address reference produced by the code generator,
// relative to the start of the function or constant run that emitted it.
// Kind is the processor-specific relocation type (an R_* value).
type Fixup struct {
	Offset uint64
	Kind   uint32
	Symbol string
	Addend int64
}

// RelocSection batches the fixups that target one content section. It is
// created lazily on the first fixup and reused for the rest of the session.
// REL records (no addend) are written for 32-bit targets, RELA for 64-bit.
type RelocSection struct {
	Section *Section

	target *Section
	relocs []Fixup
}

// TargetSection returns the content section these relocations modify.
func (r *RelocSection) TargetSection() *Section {
	return r.target
}

// AddRelocations folds in a function's fixups, rebased by the function's
// starting offset within the target section.
func (r *RelocSection) AddRelocations(baseOffset uint64, fixups []Fixup) {
	for _, f := range fixups {
		f.Offset += baseOffset
		r.relocs = append(r.relocs, f)
	}
}

// DataSize returns the serialized size of all records.
func (r *RelocSection) DataSize() uint64 {
	return uint64(len(r.relocs)) * r.Section.EntSize
}

// WriteData serializes the records. Requires final symbol indices, so it
// only runs during finalization.
func (r *RelocSection) WriteData(str Streamer, symTab *SymbolTable, is64 bool) {
	for _, rel := range r.relocs {
		symIndex := symTab.FindIndex(rel.Symbol)
		if is64 {
			str.Write64(rel.Offset)                          // r_offset
			str.Write64(uint64(symIndex)<<32 | uint64(rel.Kind)) // r_info
			str.Write64(uint64(rel.Addend))                  // r_addend
		} else {
			if rel.Kind > 0xff {
				panic(fmt.Sprintf("relf: relocation kind %d does not fit an Elf32_Rel", rel.Kind))
			}
			str.Write32(uint32(rel.Offset))                    // r_offset
			str.Write32(uint32(symIndex)<<8 | rel.Kind&0xff) // r_info
		}
	}
}
