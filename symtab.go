// symtab.go - ELF symbol table builder (.symtab)
package relf

import (
	"debug/elf"
	"fmt"
)

const (
	sym32Size = 16 // sizeof(Elf32_Sym)
	sym64Size = 24 // sizeof(Elf64_Sym)
)

// symbol is one defined symbol bound to a section. The section pointer is
// a plain back-reference; the writer owns the section.
type symbol struct {
	name    string
	typ     elf.SymType
	bind    elf.SymBind
	section *Section
	offset  uint64
	size    uint64

	nameIndex uint32 // resolved by UpdateIndices
	index     int    // final serial index; locals precede globals
}

// SymbolTable accumulates defined symbols. Locals and globals are kept in
// separate runs so the final table always has the local prefix ELF
// requires, with sh_info recording the boundary.
type SymbolTable struct {
	Section *Section

	locals  []*symbol
	globals []*symbol
	byName  map[string]*symbol
	is64    bool
	updated bool
}

func newSymbolTable(is64 bool) *SymbolTable {
	align := uint64(4)
	entSize := uint64(sym32Size)
	if is64 {
		align = 8
		entSize = sym64Size
	}
	return &SymbolTable{
		Section: newSection(SectionSymTab, ".symtab", elf.SHT_SYMTAB, 0, align, entSize),
		byName:  make(map[string]*symbol),
		is64:    is64,
	}
}

// CreateDefinedSym records a symbol at offset within sec. The very first
// call must be the null symbol (empty name, null section).
func (t *SymbolTable) CreateDefinedSym(name string, typ elf.SymType, bind elf.SymBind, sec *Section, offset, size uint64) {
	if t.updated {
		panic("relf: symbol defined after symbol table update")
	}
	sym := &symbol{
		name:    name,
		typ:     typ,
		bind:    bind,
		section: sec,
		offset:  offset,
		size:    size,
	}
	if bind == elf.STB_LOCAL {
		t.locals = append(t.locals, sym)
	} else {
		t.globals = append(t.globals, sym)
	}
	if name != "" {
		t.byName[name] = sym
	}
}

// NumLocals returns the count of local-binding symbols, the value that
// goes into the symbol table section's sh_info.
func (t *SymbolTable) NumLocals() int {
	return len(t.locals)
}

func (t *SymbolTable) numEntries() int {
	return len(t.locals) + len(t.globals)
}

// DataSize returns the serialized size of the table.
func (t *SymbolTable) DataSize() uint64 {
	return uint64(t.numEntries()) * t.Section.EntSize
}

// UpdateIndices assigns final serial indices (locals first) and resolves
// every symbol's name to its offset in the now-laid-out string table.
func (t *SymbolTable) UpdateIndices(strTab *StringTable) {
	if t.updated {
		panic("relf: symbol table updated twice")
	}
	t.updated = true
	idx := 0
	for _, sym := range t.locals {
		sym.nameIndex = strTab.Index(sym.name)
		sym.index = idx
		idx++
	}
	for _, sym := range t.globals {
		sym.nameIndex = strTab.Index(sym.name)
		sym.index = idx
		idx++
	}
}

// FindIndex returns the final index of a named symbol. Requires
// UpdateIndices to have run.
func (t *SymbolTable) FindIndex(name string) int {
	if !t.updated {
		panic("relf: symbol index requested before update")
	}
	sym, ok := t.byName[name]
	if !ok {
		panic(fmt.Sprintf("relf: symbol %q not defined", name))
	}
	return sym.index
}

// WriteData serializes all entries. Requires final section numbers for
// st_shndx, so it only runs during finalization.
func (t *SymbolTable) WriteData(str Streamer, is64 bool) {
	for _, run := range [][]*symbol{t.locals, t.globals} {
		for _, sym := range run {
			shndx := uint16(0) // SHN_UNDEF for the null section
			if sym.section.Kind != SectionNull {
				if sym.section.Number == sectionNumberUnassigned {
					panic(fmt.Sprintf("relf: symbol %q references unnumbered section %s", sym.name, sym.section.Name))
				}
				shndx = uint16(sym.section.Number)
			}
			info := byte(sym.bind)<<4 | byte(sym.typ)&0xf
			if is64 {
				str.Write32(sym.nameIndex) // st_name
				str.Write8(info)           // st_info
				str.Write8(0)              // st_other
				str.Write16(shndx)         // st_shndx
				str.Write64(sym.offset)    // st_value
				str.Write64(sym.size)      // st_size
			} else {
				str.Write32(sym.nameIndex)      // st_name
				str.Write32(uint32(sym.offset)) // st_value
				str.Write32(uint32(sym.size))   // st_size
				str.Write8(info)                // st_info
				str.Write8(0)                   // st_other
				str.Write16(shndx)              // st_shndx
			}
		}
	}
}
