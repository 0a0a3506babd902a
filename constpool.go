// constpool.go - deduplicated float/double constant pools
package relf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NumKind identifies a pooled primitive numeric type.
type NumKind int

const (
	Float32 NumKind = iota
	Float64
)

func (k NumKind) String() string {
	switch k {
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	default:
		return "unknown"
	}
}

// Width returns the value size in bytes.
func (k NumKind) Width() int {
	switch k {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic(fmt.Sprintf("relf: invalid numeric kind %d", int(k)))
	}
}

// Align returns the natural alignment, which equals the width for the
// float types pooled here.
func (k NumKind) Align() int {
	return k.Width()
}

// Constant is one pooled value. Identical bit patterns share an entry.
type Constant struct {
	kind  NumKind
	bits  uint64
	index int
}

// PoolLabel renders the synthetic local symbol name for this entry.
func (c *Constant) PoolLabel() string {
	return fmt.Sprintf(".L$%s$%d", c.kind, c.index)
}

// Bits returns the raw IEEE-754 bit pattern (zero-extended for f32).
func (c *Constant) Bits() uint64 {
	return c.bits
}

// encode writes the little-endian value bytes into buf and returns the
// number of bytes written.
func (c *Constant) encode(buf []byte) int {
	w := c.kind.Width()
	switch c.kind {
	case Float32:
		binary.LittleEndian.PutUint32(buf, uint32(c.bits))
	case Float64:
		binary.LittleEndian.PutUint64(buf, c.bits)
	}
	return w
}

// ConstantPool deduplicates the constants of one numeric kind in first-use
// order. The code generator registers values while translating functions;
// the object writer drains the pool into a .rodata.cstN section.
type ConstantPool struct {
	kind    NumKind
	byBits  map[uint64]*Constant
	ordered []*Constant
}

func NewConstantPool(kind NumKind) *ConstantPool {
	return &ConstantPool{
		kind:   kind,
		byBits: make(map[uint64]*Constant),
	}
}

// Kind returns the pooled numeric type.
func (p *ConstantPool) Kind() NumKind {
	return p.kind
}

func (p *ConstantPool) add(bits uint64) *Constant {
	if c, ok := p.byBits[bits]; ok {
		return c
	}
	c := &Constant{kind: p.kind, bits: bits, index: len(p.ordered)}
	p.byBits[bits] = c
	p.ordered = append(p.ordered, c)
	return c
}

// AddFloat32 interns a float32 value. Deduplication is by bit pattern, so
// distinct NaN payloads stay distinct.
func (p *ConstantPool) AddFloat32(v float32) *Constant {
	if p.kind != Float32 {
		panic("relf: float32 added to a " + p.kind.String() + " pool")
	}
	return p.add(uint64(math.Float32bits(v)))
}

// AddFloat64 interns a float64 value.
func (p *ConstantPool) AddFloat64(v float64) *Constant {
	if p.kind != Float64 {
		panic("relf: float64 added to a " + p.kind.String() + " pool")
	}
	return p.add(math.Float64bits(v))
}

// Constants returns the pooled entries in first-use order.
func (p *ConstantPool) Constants() []*Constant {
	return p.ordered
}

// Empty reports whether nothing was pooled.
func (p *ConstantPool) Empty() bool {
	return len(p.ordered) == 0
}
