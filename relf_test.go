package relf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// parseObject re-reads a written object with debug/elf, which rejects
// files whose header, section table or string table indices disagree.
func parseObject(t *testing.T, raw []byte) *elf.File {
	t.Helper()
	f, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err, "written object must parse as ELF")
	return f
}

func finalize(t *testing.T, w *ObjectWriter, str *BufferStreamer) *elf.File {
	t.Helper()
	require.NoError(t, w.WriteNonUserSections())
	return parseObject(t, str.Bytes())
}

func newTestWriter(t *testing.T, arch TargetArch) (*ObjectWriter, *BufferStreamer) {
	t.Helper()
	str := NewBufferStreamer()
	w := NewWriter(arch, str, nil)
	require.NoError(t, w.WriteInitialELFHeader())
	return w, str
}

func TestEmptyObjectStructure(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)
	f := finalize(t, w, str)

	var names []string
	for _, sec := range f.Sections {
		names = append(names, sec.Name)
	}
	require.Equal(t, []string{"", ".shstrtab", ".symtab", ".strtab"}, names)

	// Only the null symbol, which debug/elf skips.
	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Empty(t, syms)

	symtab := f.Section(".symtab")
	require.Equal(t, uint64(sym64Size), symtab.Size, "one null entry")
	require.Equal(t, uint32(1), symtab.Info, "the null symbol is local")
	require.Equal(t, uint32(3), symtab.Link, ".symtab links to .strtab")
}

func TestHeaderFields(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)
	fn := NewCodeBuffer()
	fn.Emit(0xc3)
	require.NoError(t, w.WriteFunctionCode("f", false, fn))
	f := finalize(t, w, str)

	require.Equal(t, elf.ET_REL, f.Type)
	require.Equal(t, elf.EM_X86_64, f.Machine)
	require.Equal(t, elf.ELFCLASS64, f.Class)
	require.Equal(t, elf.ELFDATA2LSB, f.Data)

	raw := str.Bytes()
	shoff := binary.LittleEndian.Uint64(raw[0x28:])
	shnum := binary.LittleEndian.Uint16(raw[0x3c:])
	shstrndx := binary.LittleEndian.Uint16(raw[0x3e:])
	require.Equal(t, uint64(len(raw))-uint64(shnum)*shdr64Size, shoff,
		"section header table runs to end of file")
	require.Equal(t, uint16(len(f.Sections)), shnum)
	require.Equal(t, ".shstrtab", f.Sections[shstrndx].Name)
}

func TestFunctionSymbolOffsets(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)

	first := NewCodeBuffer()
	first.Emit(0x90, 0x90, 0x90, 0xc3) // three nops and a ret
	require.NoError(t, w.WriteFunctionCode("first", false, first))

	second := NewCodeBuffer()
	second.Emit(0xc3)
	require.NoError(t, w.WriteFunctionCode("second", true, second))

	f := finalize(t, w, str)

	text := f.Section(".text")
	require.NotNil(t, text)
	require.Equal(t, elf.SHF_ALLOC|elf.SHF_EXECINSTR, text.Flags)
	require.Equal(t, uint64(textAlign), text.Addralign)
	require.Equal(t, uint64(5), text.Size)

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, 2)

	// Locals occupy the prefix: "second" is internal, so it comes first.
	require.Equal(t, "second", syms[0].Name)
	require.Equal(t, elf.STB_LOCAL, elf.ST_BIND(syms[0].Info))
	require.Equal(t, elf.STT_NOTYPE, elf.ST_TYPE(syms[0].Info))
	require.Equal(t, uint64(4), syms[0].Value, "offset equals .text size before the call")
	require.Equal(t, uint64(0), syms[0].Size)

	require.Equal(t, "first", syms[1].Name)
	require.Equal(t, elf.STB_GLOBAL, elf.ST_BIND(syms[1].Info))
	require.Equal(t, elf.STT_FUNC, elf.ST_TYPE(syms[1].Info))
	require.Equal(t, uint64(0), syms[1].Value)
	require.Equal(t, uint64(0), syms[1].Size)

	require.Equal(t, uint32(2), f.Section(".symtab").Info,
		"local count covers the null symbol and one internal function")
}

func TestSectionOffsetAlignment(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)
	fn := NewCodeBuffer()
	fn.Emit(0xc3)
	require.NoError(t, w.WriteFunctionCode("f", false, fn))

	pool := NewConstantPool(Float64)
	pool.AddFloat64(2.5)
	require.NoError(t, w.WriteConstantPool(pool))

	f := finalize(t, w, str)
	for _, sec := range f.Sections {
		if sec.Addralign > 1 {
			require.Zerof(t, sec.Offset%sec.Addralign,
				"section %s offset %#x not aligned to %d", sec.Name, sec.Offset, sec.Addralign)
		}
	}
}

func TestConstantPoolRoundTrip(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)

	pool := NewConstantPool(Float32)
	pool.AddFloat32(1.5)
	pool.AddFloat32(2.5)
	require.NoError(t, w.WriteConstantPool(pool))

	f := finalize(t, w, str)

	sec := f.Section(".rodata.cst4")
	require.NotNil(t, sec)
	require.Equal(t, elf.SHF_ALLOC|elf.SHF_MERGE, sec.Flags)
	require.Equal(t, uint64(4), sec.Entsize)
	require.Equal(t, uint64(4), sec.Addralign)
	require.Equal(t, uint64(8), sec.Size)

	data, err := sec.Data()
	require.NoError(t, err)
	require.Equal(t, math.Float32bits(1.5), binary.LittleEndian.Uint32(data[0:]))
	require.Equal(t, math.Float32bits(2.5), binary.LittleEndian.Uint32(data[4:]))

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, 2)
	require.Equal(t, ".L$f32$0", syms[0].Name)
	require.Equal(t, uint64(0), syms[0].Value)
	require.Equal(t, ".L$f32$1", syms[1].Name)
	require.Equal(t, uint64(4), syms[1].Value)
	for _, sym := range syms {
		require.Equal(t, elf.STB_LOCAL, elf.ST_BIND(sym.Info))
		require.Equal(t, uint64(0), sym.Size)
	}
}

func TestEmptyConstantPoolSkipped(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)
	require.NoError(t, w.WriteConstantPool(NewConstantPool(Float64)))
	f := finalize(t, w, str)
	require.Nil(t, f.Section(".rodata.cst8"))
}

func TestRelocationsRELA(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)

	caller := NewCodeBuffer()
	caller.Emit(0x90, 0x90) // padding so the rebased offset is visible
	caller.Emit(0xe8, 0, 0, 0, 0)
	caller.AddFixup(3, uint32(elf.R_X86_64_PLT32), "callee", -4)
	require.NoError(t, w.WriteFunctionCode("callee", true, NewCodeBuffer()))
	require.NoError(t, w.WriteFunctionCode("caller", false, caller))

	f := finalize(t, w, str)

	rela := f.Section(".rela.text")
	require.NotNil(t, rela)
	require.Equal(t, elf.SHT_RELA, rela.Type)
	require.Equal(t, uint64(rela64Size), rela.Entsize)

	symtabNum := -1
	textNum := -1
	for i, sec := range f.Sections {
		switch sec.Name {
		case ".symtab":
			symtabNum = i
		case ".text":
			textNum = i
		}
	}
	require.Equal(t, uint32(symtabNum), rela.Link, "sh_link names .symtab")
	require.Equal(t, uint32(textNum), rela.Info, "sh_info names the target section")

	data, err := rela.Data()
	require.NoError(t, err)
	require.Len(t, data, rela64Size)

	rOffset := binary.LittleEndian.Uint64(data[0:])
	rInfo := binary.LittleEndian.Uint64(data[8:])
	rAddend := int64(binary.LittleEndian.Uint64(data[16:]))
	require.Equal(t, uint64(3), rOffset, "fixup rebased by caller's start offset... callee is empty, caller starts at 0")
	require.Equal(t, uint32(elf.R_X86_64_PLT32), uint32(rInfo))
	require.Equal(t, int64(-4), rAddend)

	// r_info's upper half indexes "callee" in the symbol table.
	symIndex := int(rInfo >> 32)
	syms, err := f.Symbols()
	require.NoError(t, err)
	// debug/elf strips the null entry, so written index i is syms[i-1].
	require.Equal(t, "callee", syms[symIndex-1].Name)
}

func TestRelocationRebase(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)

	filler := NewCodeBuffer()
	filler.Emit(bytes.Repeat([]byte{0x90}, 16)...)
	require.NoError(t, w.WriteFunctionCode("filler", true, filler))

	caller := NewCodeBuffer()
	caller.Emit(0xe8, 0, 0, 0, 0)
	caller.AddFixup(1, uint32(elf.R_X86_64_PLT32), "filler", -4)
	require.NoError(t, w.WriteFunctionCode("caller", false, caller))

	f := finalize(t, w, str)
	data, err := f.Section(".rela.text").Data()
	require.NoError(t, err)
	require.Equal(t, uint64(16+1), binary.LittleEndian.Uint64(data[0:]))
}

func TestRelObject32Bit(t *testing.T) {
	w, str := newTestWriter(t, TargetX8632)

	caller := NewCodeBuffer()
	caller.Emit(0xe8, 0, 0, 0, 0)
	caller.AddFixup(1, uint32(elf.R_386_PC32), "target", 0)
	require.NoError(t, w.WriteFunctionCode("target", true, NewCodeBuffer()))
	require.NoError(t, w.WriteFunctionCode("caller", false, caller))

	f := finalize(t, w, str)
	require.Equal(t, elf.ELFCLASS32, f.Class)
	require.Equal(t, elf.EM_386, f.Machine)

	rel := f.Section(".rel.text")
	require.NotNil(t, rel, "32-bit targets use REL, not RELA")
	require.Nil(t, f.Section(".rela.text"))
	require.Equal(t, elf.SHT_REL, rel.Type)
	require.Equal(t, uint64(rel32Size), rel.Entsize)

	data, err := rel.Data()
	require.NoError(t, err)
	require.Len(t, data, rel32Size)
	rOffset := binary.LittleEndian.Uint32(data[0:])
	rInfo := binary.LittleEndian.Uint32(data[4:])
	require.Equal(t, uint32(1), rOffset)
	require.Equal(t, uint32(elf.R_386_PC32), rInfo&0xff)

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Equal(t, "target", syms[int(rInfo>>8)-1].Name)
}

func TestRiscv64HeaderFlags(t *testing.T) {
	w, str := newTestWriter(t, TargetRiscv64)
	f := finalize(t, w, str)
	require.Equal(t, elf.EM_RISCV, f.Machine)

	raw := str.Bytes()
	flags := binary.LittleEndian.Uint32(raw[0x30:])
	require.Equal(t, uint32(riscvRVC|riscvFloatABIDouble), flags)
}

func TestAppendAfterFinalizationPanics(t *testing.T) {
	w, str := newTestWriter(t, TargetX8664)
	_ = finalize(t, w, str)

	fn := NewCodeBuffer()
	fn.Emit(0xc3)
	require.Panics(t, func() { _ = w.WriteFunctionCode("late", false, fn) })
	require.Panics(t, func() { _ = w.WriteConstantPool(NewConstantPool(Float32)) })
}

func TestDataInitializerUnimplemented(t *testing.T) {
	w, _ := newTestWriter(t, TargetX8664)
	require.Panics(t, func() { _ = w.WriteDataInitializer("global_var", []byte{1, 2, 3}) })
}

func TestInvalidArchPanics(t *testing.T) {
	require.Panics(t, func() { NewWriter(TargetArch(99), NewBufferStreamer(), nil) })
}
