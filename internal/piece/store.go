package piece

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fabricionaweb/pico-swarm/internal/digest"
	"github.com/gofrs/flock"
)

const lockName = ".pieces.lock"

// ErrDigestMismatch is returned when a piece file's bytes do not hash to its name.
var ErrDigestMismatch = errors.New("piece digest mismatch")

// Store persists pieces as raw <DIGEST_HEX_UPPER>.piece files in one directory.
// Writers hold an exclusive file lock on the directory so two processes splitting
// into the same store do not interleave partial files.
type Store struct {
	dir  string
	lock *flock.Flock
}

// VerifyReport lists the outcome of re-hashing every piece file in a store.
type VerifyReport struct {
	Corrupt []string // file names whose content does not match the name
	Skipped []string // *.piece files whose name is not a digest
	Checked int
}

// OpenStore creates dir if needed and returns a Store rooted there.
func OpenStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockName)),
	}, nil
}

// Path returns where the piece with digest d lives.
func (s *Store) Path(d digest.Digest) string {
	return filepath.Join(s.dir, FileName(d))
}

// Put writes p to the store. Identical content maps to the same file, so writing
// a piece twice is a no-op. An existing file whose bytes no longer hash to its
// name is replaced.
func (s *Store) Put(p Piece) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return s.write(p)
}

func (s *Store) write(p Piece) error {
	path := s.Path(p.Digest)
	if fi, err := os.Stat(path); err == nil && fi.Size() == int64(p.Length) {
		if data, err := os.ReadFile(path); err == nil && digest.Sum(data) == p.Digest {
			return nil
		}
	}

	// Write then rename so readers never observe a short file under the final name.
	tmp, err := os.CreateTemp(s.dir, ".tmp-*"+Ext)
	if err != nil {
		return fmt.Errorf("failed to create temp piece file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(p.Data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write piece %d: %w", p.Index, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close piece %d: %w", p.Index, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store piece %d: %w", p.Index, err)
	}
	return nil
}

// Get reads the piece named by d and checks its content against d.
func (s *Store) Get(d digest.Digest) ([]byte, error) {
	data, err := os.ReadFile(s.Path(d))
	if err != nil {
		return nil, err
	}
	if digest.Sum(data) != d {
		return nil, fmt.Errorf("%s: %w", FileName(d), ErrDigestMismatch)
	}
	return data, nil
}

// Verify re-hashes every piece file in the store.
func (s *Store) Verify() (VerifyReport, error) {
	var report VerifyReport

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return report, fmt.Errorf("failed to list store: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, Ext) || strings.HasPrefix(name, ".") {
			continue
		}
		d, err := digest.Parse(strings.TrimSuffix(name, Ext))
		if err != nil || FileName(d) != name {
			report.Skipped = append(report.Skipped, name)
			continue
		}

		report.Checked++
		if _, err := s.Get(d); err != nil {
			if !errors.Is(err, ErrDigestMismatch) {
				return report, err
			}
			report.Corrupt = append(report.Corrupt, name)
		}
	}

	sort.Strings(report.Corrupt)
	sort.Strings(report.Skipped)
	return report, nil
}
