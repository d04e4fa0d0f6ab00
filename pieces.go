package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	abencode "github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/fabricionaweb/pico-swarm/internal/digest"
	"github.com/fabricionaweb/pico-swarm/internal/piece"
)

var errCorruptPieces = errors.New("corrupt pieces found")

// splitResult is what a split keeps after the piece bytes are on disk.
type splitResult struct {
	name      string
	digests   []digest.Digest
	total     int64
	pieceSize int
}

// splitFile streams path into pieces, stores each as <DIGEST>.piece under outDir
// and writes one "index offset length digest" line per piece to out.
func splitFile(path, outDir string, pieceSize int, out io.Writer) (splitResult, error) {
	res := splitResult{name: filepath.Base(path), pieceSize: pieceSize}

	//nolint:gosec // Path comes from the operator
	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("failed to open source: %w", err)
	}
	//nolint:errcheck // read-only file
	defer f.Close()

	store, err := piece.OpenStore(outDir)
	if err != nil {
		return res, err
	}

	err = piece.SplitReader(f, pieceSize, func(p piece.Piece) error {
		if err := store.Put(p); err != nil {
			return err
		}
		res.digests = append(res.digests, p.Digest)
		res.total += int64(p.Length)
		if debugEnabled() {
			debug("piece %d offset=%d length=%d -> %s", p.Index, p.Offset, p.Length, p.FileName())
		}
		_, err := fmt.Fprintf(out, "%d\t%d\t%d\t%s\n", p.Index, p.Offset, p.Length, p.Digest)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("failed to split %s: %w", path, err)
	}
	return res, nil
}

// buildMetaInfo describes a split as a single-file torrent.
func buildMetaInfo(res splitResult, announceURL string) (*metainfo.MetaInfo, error) {
	infoBytes, err := abencode.Marshal(metainfo.Info{
		Name:        res.name,
		PieceLength: int64(res.pieceSize),
		Pieces:      digest.Concat(res.digests),
		Length:      res.total,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode info dictionary: %w", err)
	}

	return &metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		Announce:     announceURL,
		CreationDate: time.Now().Unix(),
		CreatedBy:    "pico-swarm/" + version,
	}, nil
}

// writeTorrent writes <name>.torrent next to the pieces and returns its path and info hash.
func writeTorrent(res splitResult, announceURL, outDir string) (string, string, error) {
	mi, err := buildMetaInfo(res, announceURL)
	if err != nil {
		return "", "", err
	}

	path := filepath.Join(outDir, res.name+".torrent")
	//nolint:gosec // Path is derived from operator input
	f, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to create torrent file: %w", err)
	}
	if err := mi.Write(f); err != nil {
		_ = f.Close()
		return "", "", fmt.Errorf("failed to write torrent file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("failed to close torrent file: %w", err)
	}

	infoHash := mi.HashInfoBytes()
	hash := strings.ToUpper(infoHash.HexString())
	info("wrote %s (info_hash %s)", path, hash)
	return path, hash, nil
}

// verifyStore re-hashes the piece files in dir and fails if any is corrupt.
func verifyStore(dir string, out io.Writer) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	store, err := piece.OpenStore(dir)
	if err != nil {
		return err
	}
	report, err := store.Verify()
	if err != nil {
		return err
	}

	for _, name := range report.Skipped {
		warn("skipping %s: name is not a piece digest", name)
	}
	for _, name := range report.Corrupt {
		_, _ = fmt.Fprintf(out, "CORRUPT\t%s\n", name)
	}
	_, _ = fmt.Fprintf(out, "checked %d pieces, %d corrupt\n", report.Checked, len(report.Corrupt))

	if len(report.Corrupt) > 0 {
		return fmt.Errorf("%w: %d of %d", errCorruptPieces, len(report.Corrupt), report.Checked)
	}
	return nil
}
