// Package announce builds and parses HTTP tracker announce responses (BEP 3).
package announce

import (
	"encoding/binary"
	"net"

	"github.com/fabricionaweb/pico-swarm/internal/bencode"
)

// PeerIDSize is the fixed length of a peer id.
const PeerIDSize = 20

// Dictionary keys of an announce response.
const (
	keyInterval      = "interval"
	keyPeers         = "peers"
	keyComplete      = "complete"
	keyIncomplete    = "incomplete"
	keyFailureReason = "failure reason"
	keyIP            = "ip"
	keyPeerID        = "peer id"
	keyPort          = "port"
)

// Peer is one contact record in a response.
type Peer struct {
	IP     string
	PeerID [PeerIDSize]byte
	Port   int
}

// Response is a tracker reply: how long to wait before polling again and who to contact.
type Response struct {
	Peers    []Peer
	Interval int
}

// BuildResponse returns {"interval": interval, "peers": [{"ip","peer id","port"}...]}
// with peers in the order given. It neither sorts nor deduplicates.
func BuildResponse(interval int, peers []Peer) bencode.Value {
	list := make(bencode.List, 0, len(peers))
	for _, p := range peers {
		list = append(list, peerDict(p))
	}
	return bencode.Dict{
		keyInterval: bencode.Int(interval),
		keyPeers:    list,
	}
}

func peerDict(p Peer) bencode.Dict {
	return bencode.Dict{
		keyIP:     bencode.Str(p.IP),
		keyPeerID: bencode.String(p.PeerID[:]),
		keyPort:   bencode.Int(p.Port),
	}
}

// Encode serializes r as BuildResponse describes.
func Encode(r Response) ([]byte, error) {
	return bencode.Encode(BuildResponse(r.Interval, r.Peers))
}

// Stats are the optional swarm counters a tracker may add to a response.
type Stats struct {
	Complete   int // seeders
	Incomplete int // leechers
}

// WithStats adds "complete" and "incomplete" to a response built by BuildResponse
// or BuildCompactResponse.
func WithStats(v bencode.Value, s Stats) bencode.Value {
	d, ok := v.(bencode.Dict)
	if !ok {
		return v
	}
	out := make(bencode.Dict, len(d)+2)
	for k, val := range d {
		out[k] = val
	}
	out[keyComplete] = bencode.Int(s.Complete)
	out[keyIncomplete] = bencode.Int(s.Incomplete)
	return out
}

// BuildCompactResponse returns the BEP 23 form, where "peers" is one byte string of
// 6-byte entries (4 bytes IPv4, 2 bytes big-endian port). Peers without an IPv4
// address or with an out-of-range port are left out.
func BuildCompactResponse(interval int, peers []Peer) bencode.Value {
	compact := make([]byte, 0, len(peers)*6)
	for _, p := range peers {
		ip := net.ParseIP(p.IP).To4()
		if ip == nil || p.Port < 0 || p.Port > 65535 {
			continue
		}
		compact = append(compact, ip...)
		//nolint:gosec // G115: port range checked above
		compact = binary.BigEndian.AppendUint16(compact, uint16(p.Port))
	}
	return bencode.Dict{
		keyInterval: bencode.Int(interval),
		keyPeers:    bencode.String(compact),
	}
}

// Failure returns {"failure reason": reason}, the only body a client expects when
// a request was refused.
func Failure(reason string) bencode.Value {
	return bencode.Dict{keyFailureReason: bencode.Str(reason)}
}

// EncodeFailure serializes Failure(reason). It cannot fail.
func EncodeFailure(reason string) []byte {
	out, _ := bencode.Encode(Failure(reason))
	return out
}
