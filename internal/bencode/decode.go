package bencode

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrSyntax wraps every decoding failure.
var ErrSyntax = errors.New("bencode: syntax error")

const maxDepth = 512

// Decode parses exactly one canonical value from data. Non-canonical input
// (leading zeros, -0, unsorted or duplicate dictionary keys) and trailing bytes
// are rejected, so Decode(Encode(v)) is the only way back to v.
func Decode(data []byte) (Value, error) {
	d := decoder{data: data}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, d.errorf("trailing data")
	}
	return v, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, d.pos, fmt.Sprintf(format, args...))
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return nil, d.errorf("nesting deeper than %d", maxDepth)
	}
	if d.pos >= len(d.data) {
		return nil, d.errorf("unexpected end of input")
	}

	switch c := d.data[d.pos]; {
	case c == 'i':
		return d.integer()
	case c >= '0' && c <= '9':
		return d.str()
	case c == 'l':
		return d.list(depth)
	case c == 'd':
		return d.dict(depth)
	default:
		return nil, d.errorf("unexpected byte %q", c)
	}
}

func (d *decoder) integer() (Value, error) {
	d.pos++ // 'i'
	end := d.pos
	for end < len(d.data) && d.data[end] != 'e' {
		end++
	}
	if end >= len(d.data) {
		return nil, d.errorf("unterminated integer")
	}

	raw := string(d.data[d.pos:end])
	if !canonicalInt(raw) {
		return nil, d.errorf("invalid integer %q", raw)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, d.errorf("integer %q out of range", raw)
	}
	d.pos = end + 1
	return Int(n), nil
}

// canonicalInt reports whether s is an optional '-' followed by digits with no
// leading zero, and is not "-0".
func canonicalInt(s string) bool {
	digits := s
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
	}
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	if digits[0] == '0' {
		return s == "0"
	}
	return true
}

func (d *decoder) str() (Value, error) {
	b, err := d.rawString()
	if err != nil {
		return nil, err
	}
	return String(b), nil
}

func (d *decoder) rawString() ([]byte, error) {
	colon := d.pos
	for colon < len(d.data) && d.data[colon] >= '0' && d.data[colon] <= '9' {
		colon++
	}
	if colon >= len(d.data) || d.data[colon] != ':' {
		return nil, d.errorf("malformed string length")
	}

	raw := string(d.data[d.pos:colon])
	if len(raw) > 1 && raw[0] == '0' {
		return nil, d.errorf("string length %q has leading zero", raw)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n > len(d.data)-colon-1 {
		return nil, d.errorf("string length %s exceeds input", raw)
	}

	start := colon + 1
	d.pos = start + n
	return append([]byte{}, d.data[start:d.pos]...), nil
}

func (d *decoder) list(depth int) (Value, error) {
	d.pos++ // 'l'
	list := List{}
	for {
		if d.pos >= len(d.data) {
			return nil, d.errorf("unterminated list")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return list, nil
		}
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
}

func (d *decoder) dict(depth int) (Value, error) {
	d.pos++ // 'd'
	dict := Dict{}
	var prev string
	for first := true; ; first = false {
		if d.pos >= len(d.data) {
			return nil, d.errorf("unterminated dictionary")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return dict, nil
		}
		if c := d.data[d.pos]; c < '0' || c > '9' {
			return nil, d.errorf("dictionary key is not a byte string")
		}

		kb, err := d.rawString()
		if err != nil {
			return nil, err
		}
		key := string(kb)
		if !first && key <= prev {
			return nil, d.errorf("dictionary key %q out of order or duplicated", key)
		}
		prev = key

		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		dict[key] = v
	}
}
