package bencode

import (
	"bytes"
	"strconv"
)

// MaxSafeInteger is the largest integer every common bencode consumer round-trips
// exactly, including parsers that store integers as IEEE-754 doubles (2^53-1).
const MaxSafeInteger = 1<<53 - 1

// SafeEncoder rejects integers outside ±MaxSafeInteger.
var SafeEncoder = Encoder{Min: -MaxSafeInteger, Max: MaxSafeInteger}

// Encoder serializes Value trees. Min and Max bound the integers it accepts;
// the zero Encoder accepts the whole int64 range.
type Encoder struct {
	Min int64
	Max int64
}

// Encode serializes v with the zero Encoder.
func Encode(v Value) ([]byte, error) {
	return Encoder{}.Encode(v)
}

// Encode serializes v. The output depends only on v.
func (e Encoder) Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e Encoder) bounded() bool {
	return e.Min != 0 || e.Max != 0
}

func (e Encoder) encodeValue(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case Int:
		return e.encodeInt(buf, int64(t))
	case String:
		encodeString(buf, t)
		return nil
	case List:
		return e.encodeList(buf, t)
	case Dict:
		return e.encodeDict(buf, t)
	case nil:
		return &EncodingError{Value: v, Reason: "nil value"}
	default:
		return &EncodingError{Value: v, Reason: "unsupported value type"}
	}
}

func (e Encoder) encodeInt(buf *bytes.Buffer, n int64) error {
	if e.bounded() && (n < e.Min || n > e.Max) {
		return &EncodingError{Value: n, Reason: "integer outside configured range"}
	}
	var scratch [24]byte
	buf.WriteByte('i')
	buf.Write(strconv.AppendInt(scratch[:0], n, 10))
	buf.WriteByte('e')
	return nil
}

func encodeString(buf *bytes.Buffer, b []byte) {
	var scratch [24]byte
	buf.Write(strconv.AppendInt(scratch[:0], int64(len(b)), 10))
	buf.WriteByte(':')
	buf.Write(b)
}

func (e Encoder) encodeList(buf *bytes.Buffer, list List) error {
	buf.WriteByte('l')
	for _, v := range list {
		if err := e.encodeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

func (e Encoder) encodeDict(buf *bytes.Buffer, d Dict) error {
	buf.WriteByte('d')
	for _, k := range d.Keys() {
		encodeString(buf, []byte(k))
		if err := e.encodeValue(buf, d[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}
