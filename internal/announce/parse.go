package announce

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/fabricionaweb/pico-swarm/internal/bencode"
)

// FailureError is a tracker refusal carried in a "failure reason" response.
type FailureError struct {
	Reason string
}

func (e *FailureError) Error() string {
	return "tracker failure: " + e.Reason
}

var errNotDict = errors.New("announce response is not a dictionary")

// Parse decodes an announce response body. Both the dictionary peer list and the
// compact form are accepted; malformed peer entries are skipped rather than failing
// the whole response.
func Parse(body []byte) (Response, error) {
	v, err := bencode.Decode(body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to decode announce response: %w", err)
	}
	d, ok := v.(bencode.Dict)
	if !ok {
		return Response{}, errNotDict
	}

	if reason, ok := d[keyFailureReason].(bencode.String); ok {
		return Response{}, &FailureError{Reason: string(reason)}
	}

	interval, ok := d[keyInterval].(bencode.Int)
	if !ok || interval < 0 {
		return Response{}, fmt.Errorf("announce response: missing or invalid %q", keyInterval)
	}

	r := Response{Interval: int(interval)}
	switch peers := d[keyPeers].(type) {
	case bencode.List:
		r.Peers = parsePeerList(peers)
	case bencode.String:
		r.Peers = parseCompactPeers(peers)
	default:
		return Response{}, fmt.Errorf("announce response: missing or invalid %q", keyPeers)
	}
	return r, nil
}

func parsePeerList(list bencode.List) []Peer {
	out := make([]Peer, 0, len(list))
	for _, item := range list {
		d, ok := item.(bencode.Dict)
		if !ok {
			continue
		}
		ip, okIP := d[keyIP].(bencode.String)
		id, okID := d[keyPeerID].(bencode.String)
		port, okPort := d[keyPort].(bencode.Int)
		if !okIP || !okID || !okPort || len(id) != PeerIDSize || port < 0 || port > 65535 {
			continue
		}
		p := Peer{IP: string(ip), Port: int(port)}
		copy(p.PeerID[:], id)
		out = append(out, p)
	}
	return out
}

func parseCompactPeers(b []byte) []Peer {
	if len(b)%6 != 0 {
		return nil
	}
	out := make([]Peer, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		out = append(out, Peer{
			IP:   net.IPv4(b[i], b[i+1], b[i+2], b[i+3]).String(),
			Port: int(binary.BigEndian.Uint16(b[i+4 : i+6])),
		})
	}
	return out
}

// Addr returns host:port for dialing p.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}
