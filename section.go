// section.go - the section model for relocatable object files
package relf

import "debug/elf"

// SectionKind enumerates the closed set of section variants the writer
// produces. The set is fixed by the ELF relocatable-object layout.
type SectionKind int

const (
	SectionNull SectionKind = iota
	SectionStrTab
	SectionSymTab
	SectionText
	SectionData
	SectionReloc
)

func (k SectionKind) String() string {
	switch k {
	case SectionNull:
		return "null"
	case SectionStrTab:
		return "strtab"
	case SectionSymTab:
		return "symtab"
	case SectionText:
		return "text"
	case SectionData:
		return "data"
	case SectionReloc:
		return "reloc"
	default:
		return "unknown"
	}
}

// sectionNumberUnassigned marks a section that has not been through layout.
const sectionNumberUnassigned = -1

// Section is one entry of the eventual section header table. Sections are
// created through the writer's factory, mutated while content accumulates,
// and frozen once section numbers are assigned. The writer owns every
// Section it creates; builders keep plain non-owning pointers.
type Section struct {
	Kind    SectionKind
	Name    string
	Type    elf.SectionType
	Flags   elf.SectionFlag
	Align   uint64
	EntSize uint64

	// Filled in during layout and finalization.
	Number    int
	NameIndex uint32
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
}

func newSection(kind SectionKind, name string, typ elf.SectionType, flags elf.SectionFlag, align, entSize uint64) *Section {
	return &Section{
		Kind:    kind,
		Name:    name,
		Type:    typ,
		Flags:   flags,
		Align:   align,
		EntSize: entSize,
		Number:  sectionNumberUnassigned,
	}
}

// appendData streams bytes into the section body and grows its size.
// Only valid while the writer is still accumulating content.
func (s *Section) appendData(str Streamer, data []byte) {
	str.WriteBytes(data)
	s.Size += uint64(len(data))
}

// writeHeader serializes the Elf32_Shdr or Elf64_Shdr for this section.
func (s *Section) writeHeader(str Streamer, is64 bool) {
	str.Write32(s.NameIndex)      // sh_name
	str.Write32(uint32(s.Type))   // sh_type
	writeXword(str, is64, uint64(s.Flags)) // sh_flags
	writeAddrOrOffset(str, is64, 0)        // sh_addr: none in a relocatable
	writeAddrOrOffset(str, is64, s.Offset) // sh_offset
	writeXword(str, is64, s.Size)          // sh_size
	str.Write32(s.Link)                    // sh_link
	str.Write32(s.Info)                    // sh_info
	writeXword(str, is64, s.Align)         // sh_addralign
	writeXword(str, is64, s.EntSize)       // sh_entsize
}
