package store

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Typed column buffers used by the segment codec. Rows are transposed into
// these on flush and back into rows on read.

// Int64Column stores int64 values (timestamps, counters).
type Int64Column struct {
	Data []int64
}

func (c *Int64Column) Append(v int64) {
	c.Data = append(c.Data, v)
}

// Encode serializes the column as raw little-endian values.
func (c *Int64Column) Encode() []byte {
	buf := make([]byte, 8*len(c.Data))
	for i, v := range c.Data {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func DecodeInt64Column(data []byte) []int64 {
	count := len(data) / 8
	out := make([]int64, count)
	for i := 0; i < count; i++ {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out
}

// Uint8Column stores one byte per row (level codes).
type Uint8Column struct {
	Data []uint8
}

func (c *Uint8Column) Append(v uint8) {
	c.Data = append(c.Data, v)
}

func (c *Uint8Column) Encode() []byte {
	out := make([]byte, len(c.Data))
	copy(out, c.Data)
	return out
}

func DecodeUint8Column(data []byte) []uint8 {
	out := make([]uint8, len(data))
	copy(out, data)
	return out
}

// Int8Column stores signed bytes (the tri-state success flag).
type Int8Column struct {
	Data []int8
}

func (c *Int8Column) Append(v int8) {
	c.Data = append(c.Data, v)
}

func (c *Int8Column) Encode() []byte {
	out := make([]byte, len(c.Data))
	for i, v := range c.Data {
		out[i] = byte(v)
	}
	return out
}

func DecodeInt8Column(data []byte) []int8 {
	out := make([]int8, len(data))
	for i, b := range data {
		out[i] = int8(b)
	}
	return out
}

// StringColumn stores variable-length values in a flat buffer with offsets,
// which keeps GC pressure low compared to a []string.
type StringColumn struct {
	Data    []byte
	Offsets []int
}

func NewStringColumn() *StringColumn {
	c := &StringColumn{}
	c.Offsets = append(c.Offsets, 0)
	return c
}

func (c *StringColumn) Append(s string) {
	c.Data = append(c.Data, s...)
	c.Offsets = append(c.Offsets, len(c.Data))
}

func (c *StringColumn) Len() int {
	return len(c.Offsets) - 1
}

func (c *StringColumn) Get(i int) string {
	return string(c.Data[c.Offsets[i]:c.Offsets[i+1]])
}

// Encode serializes as [len uint32][bytes] per value.
func (c *StringColumn) Encode() []byte {
	buf := new(bytes.Buffer)
	for i := 0; i < c.Len(); i++ {
		v := c.Data[c.Offsets[i]:c.Offsets[i+1]]
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return buf.Bytes()
}

func DecodeStringColumn(data []byte) ([]string, error) {
	var out []string
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, err
		}
		strBytes := make([]byte, length)
		if _, err := io.ReadFull(r, strBytes); err != nil {
			return nil, err
		}
		out = append(out, string(strBytes))
	}
	return out, nil
}
