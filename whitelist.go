package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fabricionaweb/pico-swarm/internal/digest"
)

const whitelistRefreshInterval = 5 * time.Minute

// allowList restricts the tracker to the info hashes listed in a file (private
// mode). The set is swapped atomically when the file's mtime moves. A file that
// cannot be read yields an empty set, which admits nothing.
type allowList struct {
	hashes  atomic.Pointer[map[HashID]struct{}]
	modTime time.Time // owned by the reload goroutine
	path    string
}

func newAllowList(path string) *allowList {
	a := &allowList{path: path}
	a.reload()
	info("loaded %d hashes from whitelist", a.len())
	return a
}

// reload re-reads the file if it changed since the last load and reports whether
// the set was replaced. A failed stat keeps the current set.
func (a *allowList) reload() bool {
	loaded := a.hashes.Load() != nil
	fi, err := os.Stat(a.path)
	switch {
	case err != nil && loaded:
		warn("failed to stat whitelist file: %v", err)
		return false
	case err == nil && loaded && fi.ModTime().Equal(a.modTime):
		return false
	case err == nil:
		a.modTime = fi.ModTime()
	}

	set := readAllowFile(a.path)
	a.hashes.Store(&set)
	return true
}

// watch reloads the list every interval until ctx is canceled.
func (a *allowList) watch(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.reload() {
				info("reloaded whitelist: %d hashes", a.len())
			}
		}
	}
}

// allows reports whether hash may be tracked. A nil list is public mode.
func (a *allowList) allows(hash HashID) bool {
	if a == nil {
		return true
	}
	set := a.hashes.Load()
	if set == nil {
		return false
	}
	_, ok := (*set)[hash]
	return ok
}

func (a *allowList) len() int {
	if set := a.hashes.Load(); set != nil {
		return len(*set)
	}
	return 0
}

func readAllowFile(path string) map[HashID]struct{} {
	//nolint:gosec // Path is controlled by admin
	f, err := os.Open(path)
	if err != nil {
		warn("failed to open whitelist file: %v", err)
		return make(map[HashID]struct{})
	}
	//nolint:errcheck // read-only file
	defer f.Close()

	return parseAllowList(f)
}

// parseAllowList reads one hex info hash per line, in either case.
// Blank lines and # comments are ignored; malformed lines are logged and skipped.
func parseAllowList(r io.Reader) map[HashID]struct{} {
	hashes := make(map[HashID]struct{})
	sc := bufio.NewScanner(r)

	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		d, err := digest.Parse(line)
		if err != nil {
			warn("whitelist line %d: %v, skipping", n, err)
			continue
		}
		hashes[HashID(d)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		warn("error reading whitelist file: %v", err)
	}
	return hashes
}
