package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fabricionaweb/pico-swarm/internal/announce"
	"github.com/fabricionaweb/pico-swarm/internal/bencode"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// routes wires the tracker endpoints. Unknown paths get a plain 404.
func (tr *Tracker) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(announcePath, tr.handleAnnounce)
	mux.HandleFunc(scrapePath, tr.handleScrape)
	return mux
}

// writeBencode sends a bencoded body with the content type trackers have always used.
func writeBencode(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", responseContentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		debug("failed to write response: %v", err)
	}
}

// sendFailure refuses a request with a BEP 3 failure reason, so clients that only
// look at the body still learn why.
func sendFailure(w http.ResponseWriter, status int, reason string) {
	writeBencode(w, status, announce.EncodeFailure(reason))
}

// failRequest reports err to the client. Request errors keep their status;
// anything else is an internal error and its text stays in the log.
func failRequest(w http.ResponseWriter, reqID string, err error) {
	var rerr *requestError
	if errors.As(err, &rerr) {
		if debugEnabled() {
			logger.Debugw("request refused", "request_id", reqID, "reason", rerr.reason, "status", rerr.status)
		}
		sendFailure(w, rerr.status, rerr.reason)
		return
	}
	logger.Errorw("request failed", "request_id", reqID, "error", err)
	sendFailure(w, http.StatusInternalServerError, "internal error")
}

// beginRequest stamps a request id and enforces GET.
func beginRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	reqID := uuid.NewString()
	w.Header().Set(requestIDHeader, reqID)

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		sendFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return reqID, false
	}
	return reqID, true
}

// remoteIP is the rate limiting key for a request.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleAnnounce is the main interaction - a client tells us it is in the swarm
// and asks for a list of other peers to connect to. Each call is independent:
// the response depends only on this request and the current swarm snapshot.
func (tr *Tracker) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	reqID, ok := beginRequest(w, r)
	if !ok {
		return
	}

	body, err := tr.announce(r)
	if err != nil {
		failRequest(w, reqID, err)
		return
	}
	writeBencode(w, http.StatusOK, body)
}

// announce runs one announce request and returns the encoded response.
func (tr *Tracker) announce(r *http.Request) ([]byte, error) {
	if allowed, remaining := tr.limiter.allow(remoteIP(r), time.Now()); !allowed {
		debug("rate limited announce from %s, wait %v", r.RemoteAddr, remaining)
		return nil, &requestError{status: http.StatusTooManyRequests, reason: "rate limit exceeded, try again later"}
	}

	req, err := parseAnnounceRequest(r.URL.Query())
	if err != nil {
		return nil, err
	}

	infoHash := NewHashID([]byte(req.InfoHash))
	if !tr.allow.allows(infoHash) {
		info("announce rejected: info_hash %s not whitelisted from %s", infoHash.String(), r.RemoteAddr)
		return nil, &requestError{status: http.StatusForbidden, reason: "torrent not authorized"}
	}

	clientIP, err := determineClientIP(r.RemoteAddr, req.IP)
	if err != nil {
		return nil, err
	}

	peerID := NewHashID([]byte(req.PeerID))
	numWant := calculateNumWant(req.NumWant)
	if debugEnabled() {
		debug("announce from %s: info_hash=%s peer_id=%s event=%q left=%d port=%d num_want=%d ip=%s",
			r.RemoteAddr, infoHash.String(), peerID.String(), req.Event, req.Left, req.Port, numWant, clientIP)
	}

	torrent := tr.getOrCreateTorrent(infoHash)
	//nolint:gosec // G115: port validated to 1-65535 by parseAnnounceRequest
	torrent.updatePeer(peerID, clientIP, uint16(req.Port), req.Event, req.Left)

	peers, seeders, leechers := torrent.getPeers(peerID, numWant)
	debug("returning %d seeders, %d leechers, %d peers", seeders, leechers, len(peers))

	var resp bencode.Value
	if req.Compact {
		resp = announce.BuildCompactResponse(tr.interval, peers)
	} else {
		resp = announce.BuildResponse(tr.interval, peers)
	}
	resp = announce.WithStats(resp, announce.Stats{Complete: seeders, Incomplete: leechers})

	body, err := tr.enc.Encode(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode announce response: %w", err)
	}
	return body, nil
}

// handleScrape lets clients ask for statistics about torrents without announcing.
// Every info_hash parameter is reported; unknown or non-whitelisted hashes get zeros.
func (tr *Tracker) handleScrape(w http.ResponseWriter, r *http.Request) {
	reqID, ok := beginRequest(w, r)
	if !ok {
		return
	}

	body, err := tr.scrape(r)
	if err != nil {
		failRequest(w, reqID, err)
		return
	}
	writeBencode(w, http.StatusOK, body)
}

func (tr *Tracker) scrape(r *http.Request) ([]byte, error) {
	hashes := r.URL.Query()["info_hash"]
	if len(hashes) == 0 {
		return nil, badRequest("no info hashes provided")
	}
	if len(hashes) > maxScrapeHashes {
		return nil, badRequest("too many info hashes")
	}

	files := make(map[[20]byte]announce.ScrapeFile, len(hashes))
	for _, h := range hashes {
		if len(h) != 20 {
			return nil, badRequest("invalid info_hash")
		}
		infoHash := NewHashID([]byte(h))

		var s announce.ScrapeFile
		if !tr.allow.allows(infoHash) {
			debug("scrape filtered: info_hash %s not whitelisted", infoHash.String())
		} else if t := tr.getTorrent(infoHash); t != nil {
			s = t.stats()
		}
		files[infoHash] = s
	}
	debug("scrape request from %s with %d hashes", r.RemoteAddr, len(files))

	body, err := tr.enc.Encode(announce.BuildScrape(files))
	if err != nil {
		return nil, fmt.Errorf("failed to encode scrape response: %w", err)
	}
	return body, nil
}
