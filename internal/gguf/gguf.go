// Package gguf reads the metadata section of GGUF model files. Tensor data
// is never touched: the vocabulary loader only needs the key/value header.
package gguf

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const magicGGUF = "GGUF"

// maxArrayLen bounds metadata arrays so a corrupt header cannot request an
// unbounded allocation. Real vocabularies stay well below this.
const maxArrayLen = 1 << 24

// ErrNotGGUF is returned when the input does not start with the GGUF magic.
var ErrNotGGUF = errors.New("gguf: bad magic")

type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

func (t ValueType) String() string {
	switch t {
	case TypeUint8:
		return "u8"
	case TypeInt8:
		return "i8"
	case TypeUint16:
		return "u16"
	case TypeInt16:
		return "i16"
	case TypeUint32:
		return "u32"
	case TypeInt32:
		return "i32"
	case TypeUint64:
		return "u64"
	case TypeInt64:
		return "i64"
	case TypeFloat32:
		return "f32"
	case TypeFloat64:
		return "f64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

type ArrayValue struct {
	ElemType ValueType
	Values   []any
}

type Value struct {
	Type  ValueType
	Value any
}

type Header struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// Metadata is the decoded key/value section of a GGUF file.
type Metadata struct {
	Path   string
	Header Header
	KV     map[string]Value
}

// Open reads the metadata of the GGUF file at path.
func Open(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	md, err := ReadMetadata(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("gguf %s: %w", path, err)
	}
	md.Path = path
	return md, nil
}

// ReadMetadata decodes the header and key/value pairs from rd. size is the
// total input length when known and 0 otherwise; it bounds string reads.
func ReadMetadata(rd io.Reader, size int64) (*Metadata, error) {
	d := newDecoder(rd, size)

	magic, err := d.fixed(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != magicGGUF {
		return nil, fmt.Errorf("%w: %q", ErrNotGGUF, string(magic))
	}

	var h Header
	if h.Version, err = d.u32(); err != nil {
		return nil, err
	}
	if h.Version < 2 {
		return nil, fmt.Errorf("unsupported gguf version %d", h.Version)
	}
	if h.TensorCount, err = d.u64(); err != nil {
		return nil, err
	}
	if h.KVCount, err = d.u64(); err != nil {
		return nil, err
	}
	if h.KVCount > maxArrayLen {
		return nil, fmt.Errorf("kv count too large: %d", h.KVCount)
	}
	// key length prefix, value type, and at least one value byte
	if !d.fits(h.KVCount, 8+4+1) {
		return nil, fmt.Errorf("%d kv pairs at offset %d: %w", h.KVCount, d.off, io.ErrUnexpectedEOF)
	}

	kv := make(map[string]Value, d.capacity(h.KVCount))
	for i := range h.KVCount {
		key, err := d.str()
		if err != nil {
			return nil, fmt.Errorf("read key %d: %w", i, err)
		}
		vt, err := d.u32()
		if err != nil {
			return nil, fmt.Errorf("read value type for %s: %w", key, err)
		}
		val, err := d.value(ValueType(vt))
		if err != nil {
			return nil, fmt.Errorf("read value for %s: %w", key, err)
		}
		kv[key] = Value{Type: ValueType(vt), Value: val}
	}

	return &Metadata{Header: h, KV: kv}, nil
}

// Architecture returns general.architecture, or "" when absent.
func (m *Metadata) Architecture() string {
	s, _ := GetString(m.KV, "general.architecture")
	return s
}

// ContextLength returns <arch>.context_length when the file declares one.
func (m *Metadata) ContextLength() (int, bool) {
	arch := m.Architecture()
	if arch == "" {
		return 0, false
	}
	v, ok := GetUint64(m.KV, arch+".context_length")
	if !ok || v == 0 {
		return 0, false
	}
	return int(v), true
}
