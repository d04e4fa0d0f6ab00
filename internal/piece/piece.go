// Package piece partitions byte sources into fixed-size, content-addressed pieces.
package piece

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fabricionaweb/pico-swarm/internal/digest"
)

// DefaultSize is the piece length used when configuration does not override it (2^18).
const DefaultSize = 262144

// Piece is one window of a source. Offset is always Index*size and Length equals
// the configured size except possibly for the last piece.
//
//nolint:govet // Field alignment is acceptable
type Piece struct {
	Index  int
	Offset int64
	Length int
	Digest digest.Digest
	Data   []byte
}

// FileName is the on-disk name of a persisted piece: <DIGEST_HEX_UPPER>.piece
func (p Piece) FileName() string {
	return FileName(p.Digest)
}

// FileName returns the piece file name for d.
func FileName(d digest.Digest) string {
	return d.String() + Ext
}

// Ext is the extension of persisted piece files.
const Ext = ".piece"

// SplitError reports an unusable piece size.
type SplitError struct {
	Size int
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("invalid piece size %d: must be positive", e.Size)
}

// Split cuts src into pieces of size bytes, hashing each one.
// The returned pieces alias src; an empty src yields no pieces.
func Split(src []byte, size int) ([]Piece, error) {
	if size <= 0 {
		return nil, &SplitError{Size: size}
	}

	pieces := make([]Piece, 0, Count(int64(len(src)), size))
	for off, end := 0, 0; off < len(src); off = end {
		end = off + min(size, len(src)-off)
		data := src[off:end:end]
		pieces = append(pieces, Piece{
			Index:  len(pieces),
			Offset: int64(off),
			Length: len(data),
			Digest: digest.Sum(data),
			Data:   data,
		})
	}
	return pieces, nil
}

// maxPrealloc caps the buffer reserved up front for one piece; larger pieces grow
// with the data actually read.
const maxPrealloc = 4 << 20

// SplitReader streams the same partition as Split from r, calling fn once per piece
// in index order. Each piece owns its buffer. An error from fn stops the walk and is
// returned unchanged.
func SplitReader(r io.Reader, size int, fn func(Piece) error) error {
	if size <= 0 {
		return &SplitError{Size: size}
	}

	br := bufio.NewReader(r)
	var offset int64
	for index := 0; ; index++ {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read piece %d: %w", index, err)
		}

		var buf bytes.Buffer
		buf.Grow(min(size, maxPrealloc))
		n, err := io.CopyN(&buf, br, int64(size))
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read piece %d: %w", index, err)
		}

		data := buf.Bytes()[:n:n]
		p := Piece{
			Index:  index,
			Offset: offset,
			Length: int(n),
			Digest: digest.Sum(data),
			Data:   data,
		}
		if ferr := fn(p); ferr != nil {
			return ferr
		}
		if err != nil {
			return nil // short final piece
		}
		offset += n
	}
}

// Count returns how many pieces a source of total bytes splits into.
func Count(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	n := total / int64(size)
	if total%int64(size) != 0 {
		n++
	}
	return int(n)
}

// Join concatenates pieces in index order. It is the inverse of Split.
func Join(pieces []Piece) []byte {
	var total int
	for _, p := range pieces {
		total += p.Length
	}

	ordered := make([][]byte, len(pieces))
	for _, p := range pieces {
		if p.Index >= 0 && p.Index < len(ordered) {
			ordered[p.Index] = p.Data
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, total))
	for _, data := range ordered {
		buf.Write(data)
	}
	return buf.Bytes()
}
