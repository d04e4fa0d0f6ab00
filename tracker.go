package main

import (
	"context"
	"maps"
	"math/rand"
	"time"

	"github.com/fabricionaweb/pico-swarm/internal/announce"
)

// Lock order is always tracker then torrent.

func (tr *Tracker) getOrCreateTorrent(hash HashID) *Torrent {
	tr.mu.RLock()
	t, ok := tr.torrents[hash]
	tr.mu.RUnlock()
	if ok {
		return t
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if t, ok := tr.torrents[hash]; ok {
		return t
	}
	t = &Torrent{peers: make(map[HashID]*Peer)}
	tr.torrents[hash] = t
	info("created new torrent %s", hash)
	return t
}

func (tr *Tracker) getTorrent(hash HashID) *Torrent {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.torrents[hash]
}

// tally adds delta to the counter matching p's current role.
func (t *Torrent) tally(p *Peer, delta int) {
	if p.seeding() {
		t.seeders += delta
	} else {
		t.leechers += delta
	}
}

// addPeer inserts or refreshes a peer. left=0 makes it a seeder; the first time a
// peer is seen seeding it counts as a completed download.
func (t *Torrent) addPeer(id HashID, ip string, port uint16, left uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, exists := t.peers[id]
	switch {
	case !exists:
		p = &Peer{Left: left}
		t.peers[id] = p
		t.tally(p, 1)
		if debugEnabled() {
			debug("added %s %s @ %s:%d", p.role(), id, ip, port)
		}
	case p.seeding() != (left == 0):
		t.tally(p, -1)
		p.Left = left
		t.tally(p, 1)
		if debugEnabled() {
			debug("peer %s became %s @ %s:%d", id, p.role(), ip, port)
		}
	}

	p.IP, p.Port, p.Left = ip, port, left
	p.LastAnnounced = time.Now()
	if p.seeding() && !p.Completed {
		p.Completed = true
		t.completed++
	}
}

func (t *Torrent) removePeer(id HashID) {
	t.mu.Lock()
	p, ok := t.peers[id]
	if ok {
		t.tally(p, -1)
		delete(t.peers, id)
	}
	t.mu.Unlock()

	if ok {
		info("removed peer %s @ %s:%d", id, p.IP, p.Port)
	}
}

// updatePeer applies the announce event to the torrent.
func (t *Torrent) updatePeer(id HashID, ip string, port uint16, event string, left uint64) {
	switch event {
	case eventStopped:
		t.removePeer(id)
	case eventCompleted:
		t.addPeer(id, ip, port, 0)
	default:
		t.addPeer(id, ip, port, left)
	}
}

// getPeers returns up to numWant peers other than exclude, plus the swarm counters.
// Selection starts at a random offset so every peer gets handed out; the order
// chosen here is the order the response carries.
func (t *Torrent) getPeers(exclude HashID, numWant int) (peers []announce.Peer, seeders, leechers int) {
	t.mu.RLock()
	seeders, leechers = t.seeders, t.leechers
	all := make([]announce.Peer, 0, len(t.peers))
	for id, p := range t.peers {
		if id != exclude {
			all = append(all, announce.Peer{IP: p.IP, PeerID: id, Port: int(p.Port)})
		}
	}
	t.mu.RUnlock()

	if len(all) == 0 {
		return nil, seeders, leechers
	}

	n := min(numWant, len(all))
	peers = make([]announce.Peer, 0, n)
	//nolint:gosec // G404: math/rand acceptable for peer selection
	start := rand.Intn(len(all))
	for i := range n {
		peers = append(peers, all[(start+i)%len(all)])
	}
	return peers, seeders, leechers
}

// stats returns the scrape counters of one torrent.
func (t *Torrent) stats() announce.ScrapeFile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return announce.ScrapeFile{Complete: t.seeders, Downloaded: t.completed, Incomplete: t.leechers}
}

// evictStale drops peers that last announced before deadline. It reports how
// many went and whether the torrent is now empty.
func (t *Torrent) evictStale(deadline time.Time) (removed int, empty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.peers {
		if p.LastAnnounced.Before(deadline) {
			t.tally(p, -1)
			delete(t.peers, id)
			removed++
			if debugEnabled() {
				debug("cleanup: removed stale peer %s @ %s:%d", id, p.IP, p.Port)
			}
		}
	}
	return removed, len(t.peers) == 0
}

// sweep evicts stale peers, drops torrents left empty and prunes idle rate limit
// entries, returning how many of each went.
func (tr *Tracker) sweep(now time.Time) (peers, torrents, limiters int) {
	tr.mu.RLock()
	snapshot := maps.Clone(tr.torrents)
	tr.mu.RUnlock()

	var empty []HashID
	for hash, t := range snapshot {
		n, isEmpty := t.evictStale(now.Add(-stalePeerThreshold))
		peers += n
		if isEmpty {
			empty = append(empty, hash)
		}
	}

	if len(empty) > 0 {
		tr.mu.Lock()
		for _, hash := range empty {
			t, ok := tr.torrents[hash]
			if !ok {
				continue
			}
			// an announce may have landed since evictStale
			t.mu.RLock()
			stillEmpty := len(t.peers) == 0
			t.mu.RUnlock()
			if stillEmpty {
				delete(tr.torrents, hash)
				torrents++
			}
		}
		tr.mu.Unlock()
	}

	limiters = tr.limiter.prune(now.Add(-2 * rateLimitWindow))
	return peers, torrents, limiters
}

// cleanupLoop sweeps every cleanupInterval until ctx is canceled.
func (tr *Tracker) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			peers, torrents, limiters := tr.sweep(now)
			if peers+torrents+limiters > 0 {
				info("cleanup: removed %d stale peers, %d empty torrents, %d rate limit entries",
					peers, torrents, limiters)
			}
		}
	}
}
