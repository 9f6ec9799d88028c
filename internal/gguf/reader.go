package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// scalarWidth is the encoded size of every fixed-width value type.
var scalarWidth = map[ValueType]int{
	TypeUint8:   1,
	TypeInt8:    1,
	TypeBool:    1,
	TypeUint16:  2,
	TypeInt16:   2,
	TypeUint32:  4,
	TypeInt32:   4,
	TypeFloat32: 4,
	TypeUint64:  8,
	TypeInt64:   8,
	TypeFloat64: 8,
}

// decoder reads little-endian GGUF primitives. limit is the input size when
// known and 0 otherwise.
type decoder struct {
	br      *bufio.Reader
	off     int64
	limit   int64
	scratch [8]byte
}

func newDecoder(rd io.Reader, limit int64) *decoder {
	return &decoder{br: bufio.NewReader(rd), limit: limit}
}

// preallocCap bounds up-front slice and map sizing when the input size is
// unknown; larger counts grow as elements actually decode.
const preallocCap = 1024

// fits reports whether count items of at least minSize bytes each can still
// be present in the input. It is always true when the size is unknown.
func (d *decoder) fits(count uint64, minSize int64) bool {
	if d.limit <= 0 {
		return true
	}
	return count <= uint64(d.limit-d.off)/uint64(minSize)
}

// capacity is the size to preallocate for count items.
func (d *decoder) capacity(count uint64) int {
	if d.limit <= 0 {
		return int(min(count, preallocCap))
	}
	return int(count)
}

func (d *decoder) check(n int64) error {
	if d.limit > 0 && d.off+n > d.limit {
		return fmt.Errorf("read %d bytes at offset %d: %w", n, d.off, io.ErrUnexpectedEOF)
	}
	return nil
}

// fixed reads n <= 8 bytes into the scratch buffer. The slice is only valid
// until the next read.
func (d *decoder) fixed(n int) ([]byte, error) {
	if err := d.check(int64(n)); err != nil {
		return nil, err
	}
	b := d.scratch[:n]
	if _, err := io.ReadFull(d.br, b); err != nil {
		return nil, fmt.Errorf("offset %d: %w", d.off, err)
	}
	d.off += int64(n)
	return b, nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.fixed(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.fixed(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.u64()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > maxArrayLen || (d.limit > 0 && n > uint64(d.limit)) {
		return "", fmt.Errorf("string length too large: %d", n)
	}
	if err := d.check(int64(n)); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.br, buf); err != nil {
		return "", fmt.Errorf("offset %d: %w", d.off, err)
	}
	d.off += int64(n)
	return string(buf), nil
}

func (d *decoder) scalar(vtype ValueType) (any, error) {
	w, ok := scalarWidth[vtype]
	if !ok {
		return nil, fmt.Errorf("unsupported value type %s", vtype)
	}
	b, err := d.fixed(w)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	switch vtype {
	case TypeUint8:
		return b[0], nil
	case TypeInt8:
		return int8(b[0]), nil
	case TypeBool:
		return b[0] != 0, nil
	case TypeUint16:
		return le.Uint16(b), nil
	case TypeInt16:
		return int16(le.Uint16(b)), nil
	case TypeUint32:
		return le.Uint32(b), nil
	case TypeInt32:
		return int32(le.Uint32(b)), nil
	case TypeFloat32:
		return math.Float32frombits(le.Uint32(b)), nil
	case TypeUint64:
		return le.Uint64(b), nil
	case TypeInt64:
		return int64(le.Uint64(b)), nil
	default:
		return math.Float64frombits(le.Uint64(b)), nil
	}
}

// value decodes one metadata value. Arrays hold scalars or strings only.
func (d *decoder) value(vtype ValueType) (any, error) {
	switch vtype {
	case TypeString:
		return d.str()
	case TypeArray:
		et, err := d.u32()
		if err != nil {
			return nil, err
		}
		elemType := ValueType(et)
		if elemType == TypeArray {
			return nil, errors.New("nested arrays are not supported")
		}
		count, err := d.u64()
		if err != nil {
			return nil, err
		}
		if count > maxArrayLen {
			return nil, fmt.Errorf("array length too large: %d", count)
		}
		minSize := int64(8) // string length prefix
		if elemType != TypeString {
			w, ok := scalarWidth[elemType]
			if !ok {
				return nil, fmt.Errorf("unsupported array element type %s", elemType)
			}
			minSize = int64(w)
		}
		if !d.fits(count, minSize) {
			return nil, fmt.Errorf("array of %d %s at offset %d: %w", count, elemType, d.off, io.ErrUnexpectedEOF)
		}
		values := make([]any, 0, d.capacity(count))
		for range count {
			v, err := d.value(elemType)
			if err != nil {
				return nil, fmt.Errorf("array element %d: %w", len(values), err)
			}
			values = append(values, v)
		}
		return ArrayValue{ElemType: elemType, Values: values}, nil
	default:
		return d.scalar(vtype)
	}
}
