// codebuffer.go - the compiled-function view the writer consumes
package relf

import "bytes"

// CompiledFunc is the object writer's view of one translated function: the
// emitted machine code and the fixups the linker must patch. Offsets in
// the fixups are relative to the start of this function's code.
type CompiledFunc interface {
	Bytes() []byte
	Fixups() []Fixup
}

// CodeBuffer is a minimal CompiledFunc implementation for drivers and
// tests that do not carry a full assembler.
type CodeBuffer struct {
	buf    bytes.Buffer
	fixups []Fixup
}

func NewCodeBuffer() *CodeBuffer {
	return &CodeBuffer{}
}

// Emit appends raw instruction bytes.
func (b *CodeBuffer) Emit(bs ...byte) {
	b.buf.Write(bs)
}

// AddFixup records a pending reference at offset within this function.
func (b *CodeBuffer) AddFixup(offset uint64, kind uint32, symbol string, addend int64) {
	b.fixups = append(b.fixups, Fixup{
		Offset: offset,
		Kind:   kind,
		Symbol: symbol,
		Addend: addend,
	})
}

func (b *CodeBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *CodeBuffer) Fixups() []Fixup {
	return b.fixups
}
