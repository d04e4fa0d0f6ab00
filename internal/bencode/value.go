// Package bencode implements the canonical bencoding used by tracker responses
// and metainfo files (BEP 3).
package bencode

import (
	"fmt"
	"sort"
)

// Value is one node of a bencode tree: Int, String, List or Dict.
type Value interface {
	isValue()
}

// Int is a signed integer, encoded as i<n>e.
type Int int64

// String is an arbitrary byte string, encoded as <len>:<bytes>. It need not be UTF-8.
type String []byte

// List is an ordered sequence, encoded as l...e.
type List []Value

// Dict maps byte-string keys to values. Keys are emitted in byte order
// regardless of insertion order.
type Dict map[string]Value

func (Int) isValue()    {}
func (String) isValue() {}
func (List) isValue()   {}
func (Dict) isValue()   {}

// Keys returns the dictionary keys in canonical (byte) order.
func (d Dict) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Str is shorthand for a String holding s.
func Str(s string) String {
	return String(s)
}

func (s String) String() string {
	return string(s)
}

// EncodingError reports a value outside the encodable domain.
type EncodingError struct {
	Value  any
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("bencode: cannot encode %T(%v): %s", e.Value, e.Value, e.Reason)
}
