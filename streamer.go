// streamer.go - byte-level output streams for object file writing
package relf

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// Streamer is the low-level output an ObjectWriter serializes into. All
// multi-byte writes are little-endian. Write errors are sticky: the first
// failure is remembered and every later call becomes a no-op, so callers
// check Err once per operation instead of after every write.
type Streamer interface {
	// Tell returns the current write position.
	Tell() uint64
	// Seek moves the write position. Used once, to rewrite the ELF header.
	Seek(pos uint64)
	Write8(b byte)
	Write16(v uint16)
	Write32(v uint32)
	Write64(v uint64)
	WriteBytes(bs []byte)
	// WriteZeros emits n zero bytes (alignment padding).
	WriteZeros(n int)
	// Err returns the first write error, if any.
	Err() error
}

// writeXword writes an Elf_Xword: 64 bits for ELF64, 32 bits for ELF32.
func writeXword(str Streamer, is64 bool, v uint64) {
	if is64 {
		str.Write64(v)
	} else {
		str.Write32(uint32(v))
	}
}

// writeAddrOrOffset writes an Elf_Addr or Elf_Off for the session's class.
func writeAddrOrOffset(str Streamer, is64 bool, v uint64) {
	if is64 {
		str.Write64(v)
	} else {
		str.Write32(uint32(v))
	}
}

// BufferStreamer is an in-memory Streamer backed by a growable byte slice.
// Seeking backward overwrites in place.
type BufferStreamer struct {
	buf []byte
	pos int
}

func NewBufferStreamer() *BufferStreamer {
	return &BufferStreamer{}
}

// Bytes returns the accumulated output.
func (b *BufferStreamer) Bytes() []byte {
	return b.buf
}

func (b *BufferStreamer) Tell() uint64 {
	return uint64(b.pos)
}

func (b *BufferStreamer) Seek(pos uint64) {
	if pos > uint64(len(b.buf)) {
		panic("relf: seek past end of buffer")
	}
	b.pos = int(pos)
}

func (b *BufferStreamer) WriteBytes(bs []byte) {
	end := b.pos + len(bs)
	if end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	copy(b.buf[b.pos:end], bs)
	b.pos = end
}

func (b *BufferStreamer) Write8(v byte) {
	b.WriteBytes([]byte{v})
}

func (b *BufferStreamer) Write16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.WriteBytes(tmp[:])
}

func (b *BufferStreamer) Write32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.WriteBytes(tmp[:])
}

func (b *BufferStreamer) Write64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.WriteBytes(tmp[:])
}

func (b *BufferStreamer) WriteZeros(n int) {
	b.WriteBytes(make([]byte, n))
}

func (b *BufferStreamer) Err() error {
	return nil
}

// FileStreamer writes directly to a file. The file must support random
// access; a pipe will not do, since finalization seeks back to offset 0.
type FileStreamer struct {
	f   *os.File
	pos uint64
	err error
}

func NewFileStreamer(f *os.File) *FileStreamer {
	return &FileStreamer{f: f}
}

// Create opens path for writing (truncating it) and returns a streamer over it.
func Create(path string) (*FileStreamer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "relf: create object file")
	}
	return NewFileStreamer(f), nil
}

func (s *FileStreamer) Tell() uint64 {
	return s.pos
}

func (s *FileStreamer) Seek(pos uint64) {
	if s.err != nil {
		return
	}
	if _, err := s.f.Seek(int64(pos), 0); err != nil {
		s.err = errors.Wrap(err, "relf: seek")
		return
	}
	s.pos = pos
}

func (s *FileStreamer) WriteBytes(bs []byte) {
	if s.err != nil {
		return
	}
	n, err := s.f.Write(bs)
	s.pos += uint64(n)
	if err != nil {
		s.err = errors.Wrap(err, "relf: write")
	}
}

func (s *FileStreamer) Write8(v byte) {
	s.WriteBytes([]byte{v})
}

func (s *FileStreamer) Write16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	s.WriteBytes(tmp[:])
}

func (s *FileStreamer) Write32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	s.WriteBytes(tmp[:])
}

func (s *FileStreamer) Write64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	s.WriteBytes(tmp[:])
}

var zeros [64]byte

func (s *FileStreamer) WriteZeros(n int) {
	for n > 0 && s.err == nil {
		chunk := n
		if chunk > len(zeros) {
			chunk = len(zeros)
		}
		s.WriteBytes(zeros[:chunk])
		n -= chunk
	}
}

func (s *FileStreamer) Err() error {
	return s.err
}

// Close flushes the object file to stable storage and closes it.
func (s *FileStreamer) Close() error {
	syncErr := datasync(s.f)
	closeErr := s.f.Close()
	if s.err != nil {
		return s.err
	}
	if syncErr != nil {
		return errors.Wrap(syncErr, "relf: sync")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "relf: close")
	}
	return nil
}
