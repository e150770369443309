package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// FiringHeaderSize is the size of the fixed part of an encoded firing.
// Stack frames follow as little-endian u64 values.
const FiringHeaderSize = 104

// MaxStackDepth bounds the number of frames carried by one firing.
const MaxStackDepth = 127

var (
	// ErrShortRecord is returned for records smaller than their declared size.
	ErrShortRecord = errors.New("firing record too short")

	// ErrUnknownProbe is returned for records carrying an undefined probe id.
	ErrUnknownProbe = errors.New("unknown probe id")
)

// rawFiring mirrors the C layout written by the probe programs.
type rawFiring struct {
	TimestampNs uint64
	Context     uint64
	Probe       uint8
	Depth       uint8
	Pad         [6]byte
	CallSite    uint64
	Comm        [CommLen]byte
	Args        [6]uint64
	Ret         uint64
}

// ParseFiring decodes one raw firing record.
func ParseFiring(data []byte) (Firing, error) {
	if len(data) < FiringHeaderSize {
		return Firing{}, fmt.Errorf(
			"%w: %d bytes", ErrShortRecord, len(data),
		)
	}

	var raw rawFiring

	reader := bytes.NewReader(data[:FiringHeaderSize])
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return Firing{}, fmt.Errorf("reading firing header: %w", err)
	}

	p := ID(raw.Probe)
	if !p.Valid() {
		return Firing{}, fmt.Errorf("%w: %d", ErrUnknownProbe, raw.Probe)
	}

	depth := int(raw.Depth)
	if depth > MaxStackDepth {
		depth = MaxStackDepth
	}

	if len(data) < FiringHeaderSize+depth*8 {
		return Firing{}, fmt.Errorf(
			"%w: %d bytes for %d frames", ErrShortRecord, len(data), depth,
		)
	}

	f := Firing{
		Header: Header{
			TimestampNs: raw.TimestampNs,
			Context:     Context(raw.Context),
			Comm:        commString(raw.Comm[:]),
		},
		Probe:    p,
		CallSite: raw.CallSite,
		Args:     raw.Args,
		Ret:      raw.Ret,
	}

	if depth > 0 {
		f.Stack = make([]uint64, depth)
		frames := data[FiringHeaderSize:]

		for i := range f.Stack {
			f.Stack[i] = binary.LittleEndian.Uint64(frames[i*8:])
		}
	}

	return f, nil
}

// commString returns the task name up to its first NUL. The kernel does
// not clear the bytes after the terminator when a thread is renamed.
func commString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

// AppendFiring appends the wire encoding of f to dst. Comm is truncated to
// CommLen-1 bytes and the stack to MaxStackDepth frames.
func AppendFiring(dst []byte, f Firing) []byte {
	stack := f.Stack
	if len(stack) > MaxStackDepth {
		stack = stack[:MaxStackDepth]
	}

	raw := rawFiring{
		TimestampNs: f.TimestampNs,
		Context:     uint64(f.Context),
		Probe:       uint8(f.Probe),
		Depth:       uint8(len(stack)),
		CallSite:    f.CallSite,
		Args:        f.Args,
		Ret:         f.Ret,
	}

	copy(raw.Comm[:CommLen-1], f.Comm)

	buf := bytes.NewBuffer(dst)
	buf.Grow(FiringHeaderSize + len(stack)*8)

	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, &raw)

	for _, pc := range stack {
		_ = binary.Write(buf, binary.LittleEndian, pc)
	}

	return buf.Bytes()
}
