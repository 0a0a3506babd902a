// relf.go - writer for ELF relocatable object files
//
// An ObjectWriter accumulates compiled machine code, constant pools, symbols
// and relocations from a code generator, then serializes a valid ET_REL
// object in a single forward pass with one backward seek to patch the file
// header. The session is strictly two-phase: content may only be appended
// while section numbers are unassigned, and WriteNonUserSections flips the
// writer into its finalized state for good.
package relf

import (
	"debug/elf"
	"fmt"

	"github.com/go-kit/log"
)

// ELF header and section header sizes per class.
const (
	ehdr32Size = 52
	ehdr64Size = 64
	shdr32Size = 40
	shdr64Size = 64
)

// textAlign is the .text section alignment. A stand-in for the target's
// instruction bundle size.
const textAlign = 32

// constScratchSize bounds the per-entry scratch buffer for constant pool
// writing. Only 4 and 8 byte float types are pooled, so this is ample.
const constScratchSize = 20

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// ObjectWriter builds one relocatable object file. It owns every section
// it creates for the lifetime of the session; symbols and relocation
// sections refer back into that pool without owning anything.
type ObjectWriter struct {
	arch   TargetArch
	is64   bool
	str    Streamer
	logger log.Logger

	nullSection *Section
	shStrTab    *StringTable
	strTab      *StringTable
	symTab      *SymbolTable

	textSections      []*Section
	relTextSections   []*RelocSection
	dataSections      []*Section
	relDataSections   []*RelocSection
	roDataSections    []*Section
	relRoDataSections []*RelocSection

	numbersAssigned bool
}

// NewWriter creates an object writer for the given target over str. A nil
// logger disables debug tracing.
func NewWriter(arch TargetArch, str Streamer, logger log.Logger) *ObjectWriter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	w := &ObjectWriter{
		arch:   arch,
		is64:   arch.Is64(), // faults on an out-of-range tag
		str:    str,
		logger: logger,
	}

	// The bookkeeping sections exist from the start. The null section is
	// not registered in .shstrtab; its empty name is offset 0 regardless.
	w.nullSection = newSection(SectionNull, "", elf.SHT_NULL, 0, 0, 0)

	w.shStrTab = newStringTable(".shstrtab")
	w.shStrTab.Add(".shstrtab")

	w.symTab = newSymbolTable(w.is64)
	w.shStrTab.Add(w.symTab.Section.Name)
	// The first symbol table entry is always the null entry.
	w.symTab.CreateDefinedSym("", elf.STT_NOTYPE, elf.STB_LOCAL, w.nullSection, 0, 0)

	w.strTab = newStringTable(".strtab")
	w.shStrTab.Add(w.strTab.Section.Name)

	return w
}

// createSection runs every user section through the common factory so its
// name lands in .shstrtab and the accumulating-phase invariant holds.
func (w *ObjectWriter) createSection(kind SectionKind, name string, typ elf.SectionType, flags elf.SectionFlag, align, entSize uint64) *Section {
	w.mustBeAccumulating()
	sec := newSection(kind, name, typ, flags, align, entSize)
	w.shStrTab.Add(name)
	return sec
}

func (w *ObjectWriter) mustBeAccumulating() {
	if w.numbersAssigned {
		panic("relf: content appended after section numbers were assigned")
	}
}

// alignFileOffset pads the stream with zeros up to the next multiple of
// align and returns the aligned offset. align must be a power of two.
func (w *ObjectWriter) alignFileOffset(align uint64) uint64 {
	if align == 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("relf: section alignment %d is not a power of two", align))
	}
	offset := w.str.Tell()
	mod := offset & (align - 1)
	if mod == 0 {
		return offset
	}
	diff := align - mod
	w.str.WriteZeros(int(diff))
	return offset + diff
}

// WriteInitialELFHeader writes a header with dummy section layout fields.
// It exists only to advance the cursor so content starts at a known
// offset; WriteNonUserSections overwrites it in place at the end.
func (w *ObjectWriter) WriteInitialELFHeader() error {
	w.mustBeAccumulating()
	w.writeELFHeader(0, 0, 0)
	return w.str.Err()
}

func (w *ObjectWriter) writeELFHeader(shOffset uint64, shStrIndex, numSections int) {
	// >= SHN_LORESERVE would need the e_shnum==0 escape hatch, which this
	// writer does not support.
	if numSections >= int(elf.SHN_LORESERVE) {
		panic(fmt.Sprintf("relf: %d sections exceed SHN_LORESERVE", numSections))
	}
	if shStrIndex >= int(elf.SHN_LORESERVE) {
		panic(fmt.Sprintf("relf: .shstrtab index %d exceeds SHN_LORESERVE", shStrIndex))
	}

	// e_ident is byte order and class independent.
	w.str.WriteBytes(elfMagic)
	if w.is64 {
		w.str.Write8(byte(elf.ELFCLASS64))
	} else {
		w.str.Write8(byte(elf.ELFCLASS32))
	}
	w.str.Write8(byte(elf.ELFDATA2LSB))
	w.str.Write8(byte(elf.EV_CURRENT))
	w.str.Write8(byte(elf.ELFOSABI_NONE))
	w.str.Write8(0) // ABI version
	w.str.WriteZeros(7)

	ehSize := uint16(ehdr32Size)
	shentSize := uint16(shdr32Size)
	if w.is64 {
		ehSize = ehdr64Size
		shentSize = shdr64Size
	}

	w.str.Write16(uint16(elf.ET_REL))       // e_type
	w.str.Write16(uint16(w.arch.Machine())) // e_machine
	w.str.Write32(1)                        // e_version
	// A relocatable object has no entry point and no program headers.
	writeAddrOrOffset(w.str, w.is64, 0)        // e_entry
	writeAddrOrOffset(w.str, w.is64, 0)        // e_phoff
	writeAddrOrOffset(w.str, w.is64, shOffset) // e_shoff
	w.str.Write32(w.arch.Flags())              // e_flags
	w.str.Write16(ehSize)                      // e_ehsize
	w.str.Write16(0)                           // e_phentsize
	w.str.Write16(0)                           // e_phnum
	w.str.Write16(shentSize)                   // e_shentsize
	w.str.Write16(uint16(numSections))         // e_shnum
	w.str.Write16(uint16(shStrIndex))          // e_shstrndx
}

// WriteFunctionCode appends one translated function to .text, defines its
// symbol and batches its fixups into the text relocation section. Internal
// functions get local/notype symbols, external ones global/func. Function
// symbols are zero-sized by convention, unlike data symbols.
func (w *ObjectWriter) WriteFunctionCode(name string, isInternal bool, fn CompiledFunc) error {
	w.mustBeAccumulating()

	const sectionName = ".text"
	var section *Section
	if len(w.textSections) == 0 {
		section = w.createSection(SectionText, sectionName, elf.SHT_PROGBITS,
			elf.SHF_ALLOC|elf.SHF_EXECINSTR, textAlign, 0)
		section.Offset = w.alignFileOffset(section.Align)
		w.textSections = append(w.textSections, section)
	} else {
		section = w.textSections[0]
	}

	offsetInSection := section.Size
	section.appendData(w.str, fn.Bytes())

	symType := elf.STT_FUNC
	symBind := elf.STB_GLOBAL
	if isInternal {
		symType = elf.STT_NOTYPE
		symBind = elf.STB_LOCAL
	}
	w.symTab.CreateDefinedSym(name, symType, symBind, section, offsetInSection, 0)
	w.strTab.Add(name)

	if fixups := fn.Fixups(); len(fixups) > 0 {
		relSection := w.findOrCreateRelSection(section, sectionName)
		relSection.AddRelocations(offsetInSection, fixups)
	}

	w.logger.Log("msg", "wrote function code", "name", name, "internal", isInternal,
		"offset", offsetInSection, "bytes", len(fn.Bytes()), "fixups", len(fn.Fixups()))
	return w.str.Err()
}

// findOrCreateRelSection returns the relocation section tied to a text
// section, creating it on the first fixup. 64-bit targets carry explicit
// addends (.rela), 32-bit targets do not (.rel).
func (w *ObjectWriter) findOrCreateRelSection(target *Section, targetName string) *RelocSection {
	relName := ".rel" + targetName
	if w.is64 {
		relName = ".rela" + targetName
	}
	for _, rs := range w.relTextSections {
		if rs.Section.Name == relName {
			return rs
		}
	}
	shType := elf.SHT_REL
	align := uint64(4)
	entSize := uint64(rel32Size)
	if w.is64 {
		shType = elf.SHT_RELA
		align = 8
		entSize = rela64Size
	}
	rs := &RelocSection{
		Section: w.createSection(SectionReloc, relName, shType, 0, align, entSize),
		target:  target,
	}
	w.relTextSections = append(w.relTextSections, rs)
	return rs
}

// WriteDataInitializer is the entry point for initialized global data.
// The data section layout policy is not implemented yet; fail loudly
// rather than emit a half-formed object.
func (w *ObjectWriter) WriteDataInitializer(name string, data []byte) error {
	w.mustBeAccumulating()
	panic(fmt.Sprintf("relf: data initializers not implemented (symbol %q, %d bytes)", name, len(data)))
}

// WriteConstantPool drains a deduplicated constant pool into its own
// .rodata.cstN mergeable section: one local zero-sized pool-label symbol
// per constant, followed by the raw little-endian value bytes. A pool with
// nothing in it produces no section.
func (w *ObjectWriter) WriteConstantPool(pool *ConstantPool) error {
	w.mustBeAccumulating()
	if pool.Empty() {
		return nil
	}

	width := pool.Kind().Width()
	align := uint64(pool.Kind().Align())
	var scratch [constScratchSize]byte
	if width > len(scratch) {
		panic(fmt.Sprintf("relf: constant width %d exceeds scratch buffer", width))
	}
	// Writing width bytes per entry must land every entry aligned.
	if uint64(width)%align != 0 {
		panic(fmt.Sprintf("relf: constant width %d not a multiple of alignment %d", width, align))
	}

	name := fmt.Sprintf(".rodata.cst%d", width)
	section := w.createSection(SectionData, name, elf.SHT_PROGBITS,
		elf.SHF_ALLOC|elf.SHF_MERGE, align, uint64(width))
	w.roDataSections = append(w.roDataSections, section)
	section.Offset = w.alignFileOffset(align)

	offsetInSection := uint64(0)
	for _, c := range pool.Constants() {
		label := c.PoolLabel()
		// Entry size is fixed for the whole section, so pool symbols do
		// not need a size of their own.
		w.symTab.CreateDefinedSym(label, elf.STT_NOTYPE, elf.STB_LOCAL, section, offsetInSection, 0)
		w.strTab.Add(label)
		n := c.encode(scratch[:])
		w.str.WriteBytes(scratch[:n])
		offsetInSection += uint64(n)
	}
	section.Size = offsetInSection

	w.logger.Log("msg", "wrote constant pool", "kind", pool.Kind(),
		"entries", len(pool.Constants()), "section", name, "size", offsetInSection)
	return w.str.Err()
}

// assignRelSectionNumInPairs numbers a run of user sections, keeping each
// relocation section immediately after its target. Both lists are walked
// in lockstep; a relocation section whose target is out of position is an
// internal consistency fault.
func (w *ObjectWriter) assignRelSectionNumInPairs(cur *int, userSections []*Section, relSections []*RelocSection, all *[]*Section) {
	relIdx := 0
	for _, userSection := range userSections {
		userSection.Number = *cur
		*cur++
		userSection.NameIndex = w.shStrTab.Index(userSection.Name)
		*all = append(*all, userSection)
		if relIdx < len(relSections) {
			relSection := relSections[relIdx]
			if relSection.TargetSection() == userSection {
				relSection.Section.Info = uint32(userSection.Number)
				relSection.Section.Number = *cur
				*cur++
				relSection.Section.NameIndex = w.shStrTab.Index(relSection.Section.Name)
				*all = append(*all, relSection.Section)
				relIdx++
			}
		}
	}
	if relIdx != len(relSections) {
		panic("relf: relocation section without a matching target section")
	}
}

// assignSectionNumbersInfo establishes the final section table order:
// null, then each content group (text, data, rodata) with relocation
// sections interleaved after their targets, then .shstrtab, .symtab and
// .strtab. It also links .symtab to .strtab and every relocation section
// to .symtab. This is the one-way transition out of the accumulating phase.
func (w *ObjectWriter) assignSectionNumbersInfo() []*Section {
	w.mustBeAccumulating()

	var all []*Section
	cur := 0
	w.nullSection.Number = cur
	cur++
	// Everything else in the null header stays zero.
	all = append(all, w.nullSection)

	w.assignRelSectionNumInPairs(&cur, w.textSections, w.relTextSections, &all)
	w.assignRelSectionNumInPairs(&cur, w.dataSections, w.relDataSections, &all)
	w.assignRelSectionNumInPairs(&cur, w.roDataSections, w.relRoDataSections, &all)

	for _, sec := range []*Section{w.shStrTab.Section, w.symTab.Section, w.strTab.Section} {
		sec.Number = cur
		cur++
		sec.NameIndex = w.shStrTab.Index(sec.Name)
		all = append(all, sec)
	}

	w.symTab.Section.Link = uint32(w.strTab.Section.Number)
	// ELF wants locals first and sh_info marking the boundary.
	w.symTab.Section.Info = uint32(w.symTab.NumLocals())

	for _, group := range [][]*RelocSection{w.relTextSections, w.relDataSections, w.relRoDataSections} {
		for _, rs := range group {
			rs.Section.Link = uint32(w.symTab.Section.Number)
		}
	}

	w.numbersAssigned = true
	return all
}

func (w *ObjectWriter) writeRelocationSections(relSections []*RelocSection) {
	for _, rs := range relSections {
		rs.Section.Offset = w.alignFileOffset(rs.Section.Align)
		rs.Section.Size = rs.DataSize()
		rs.WriteData(w.str, w.symTab, w.is64)
	}
}

// WriteNonUserSections finalizes the object: lays out the string tables,
// assigns section numbers, writes .symtab/.strtab and all relocation
// records, emits the section header table, and seeks back to offset 0 to
// rewrite the ELF header with the true layout. After this the writer
// accepts no more content; a stream error invalidates the whole file.
func (w *ObjectWriter) WriteNonUserSections() error {
	// Section-name string table first: every section that will ever exist
	// has been created by now.
	w.shStrTab.Layout()
	w.shStrTab.Section.Offset = w.alignFileOffset(w.shStrTab.Section.Align)
	w.str.WriteBytes(w.shStrTab.Data())

	all := w.assignSectionNumbersInfo()

	// Finalize .strtab and resolve symbol names against it.
	w.strTab.Layout()
	w.symTab.UpdateIndices(w.strTab)

	w.symTab.Section.Offset = w.alignFileOffset(w.symTab.Section.Align)
	w.symTab.Section.Size = w.symTab.DataSize()
	w.symTab.WriteData(w.str, w.is64)

	w.strTab.Section.Offset = w.alignFileOffset(w.strTab.Section.Align)
	w.str.WriteBytes(w.strTab.Data())

	w.writeRelocationSections(w.relTextSections)
	w.writeRelocationSections(w.relDataSections)
	w.writeRelocationSections(w.relRoDataSections)

	shdrAlign := uint64(4)
	if w.is64 {
		shdrAlign = 8
	}
	shOffset := w.alignFileOffset(shdrAlign)
	for _, sec := range all {
		sec.writeHeader(w.str, w.is64)
	}

	// The authoritative header, now that the layout is known.
	w.str.Seek(0)
	w.writeELFHeader(shOffset, w.shStrTab.Section.Number, len(all))

	w.logger.Log("msg", "finalized object", "sections", len(all),
		"symbols", w.symTab.numEntries(), "shoff", shOffset)
	return w.str.Err()
}
