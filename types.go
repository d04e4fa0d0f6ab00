package main

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/fabricionaweb/pico-swarm/internal/bencode"
)

// HashID is a 20-byte info_hash or peer_id, kept as an array so it can key a map.
type HashID [20]byte

// NewHashID copies up to 20 bytes of b. Callers validate the length first.
func NewHashID(b []byte) HashID {
	var h HashID
	copy(h[:], b)
	return h
}

func (h HashID) String() string {
	return hex.EncodeToString(h[:])
}

// Peer is a swarm member as of its last announce.
type Peer struct {
	LastAnnounced time.Time
	IP            string
	Left          uint64
	Port          uint16
	Completed     bool // already counted in Torrent.completed
}

func (p *Peer) seeding() bool { return p.Left == 0 }

func (p *Peer) role() string {
	if p.seeding() {
		return "seeder"
	}
	return "leecher"
}

// Torrent is the swarm of one info hash.
type Torrent struct {
	peers     map[HashID]*Peer
	mu        sync.RWMutex
	seeders   int
	leechers  int
	completed int
}

// Tracker is the swarm state behind the announce and scrape endpoints.
// It decides which peers a response lists; internal/announce encodes it.
type Tracker struct {
	torrents map[HashID]*Torrent
	limiter  *rateLimiter
	allow    *allowList      // nil in public mode
	enc      bencode.Encoder // zero value encodes any int64
	interval int
	mu       sync.RWMutex
}

func newTracker(interval int) *Tracker {
	return &Tracker{
		torrents: make(map[HashID]*Torrent),
		limiter:  newRateLimiter(rateLimitBurst, rateLimitWindow),
		interval: interval,
	}
}
