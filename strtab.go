// strtab.go - ELF string table builder (.strtab / .shstrtab)
package relf

import (
	"debug/elf"
	"fmt"
)

// StringTable accumulates names, then lays them out as one NUL-separated
// blob starting with the empty string at offset 0. Offsets are only
// available after Layout has run.
type StringTable struct {
	Section *Section

	ordered []string
	offsets map[string]uint32
	data    []byte
	laidOut bool
}

func newStringTable(name string) *StringTable {
	return &StringTable{
		Section: newSection(SectionStrTab, name, elf.SHT_STRTAB, 0, 1, 0),
		offsets: make(map[string]uint32),
	}
}

// Add records a string for the table. Duplicates collapse to one entry.
func (t *StringTable) Add(s string) {
	if t.laidOut {
		panic("relf: string added to string table after layout")
	}
	if s == "" {
		return // the empty string is always present at offset 0
	}
	if _, ok := t.offsets[s]; ok {
		return
	}
	t.offsets[s] = 0 // placeholder until layout
	t.ordered = append(t.ordered, s)
}

// Layout freezes the table and assigns every string its byte offset.
func (t *StringTable) Layout() {
	if t.laidOut {
		panic("relf: string table laid out twice")
	}
	t.laidOut = true
	t.data = append(t.data, 0) // leading NUL, the empty string
	for _, s := range t.ordered {
		t.offsets[s] = uint32(len(t.data))
		t.data = append(t.data, s...)
		t.data = append(t.data, 0)
	}
	t.Section.Size = uint64(len(t.data))
}

// Index returns the byte offset of a previously added string.
func (t *StringTable) Index(s string) uint32 {
	if !t.laidOut {
		panic("relf: string table index requested before layout")
	}
	if s == "" {
		return 0
	}
	off, ok := t.offsets[s]
	if !ok {
		panic(fmt.Sprintf("relf: string %q not in string table", s))
	}
	return off
}

// Data returns the serialized table. Valid after Layout.
func (t *StringTable) Data() []byte {
	if !t.laidOut {
		panic("relf: string table data requested before layout")
	}
	return t.data
}
