package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// HTTP tracker protocol (BEP 3), with compact peers (BEP 23) and scrape (BEP 48)
// https://bittorrent.org/beps/bep_0003.html
const (
	announcePath = "/announce"
	scrapePath   = "/scrape"

	eventNone      = ""
	eventStarted   = "started"
	eventCompleted = "completed"
	eventStopped   = "stopped"
	eventPaused    = "paused" // BEP 21

	defaultNumWant  = 50  // default number of peers to return when client doesn't specify
	maxNumWant      = 200 // hard cap regardless of what the client asks for
	maxScrapeHashes = 74  // keeps the query under common 2k URL limits

	defaultInterval    = 1800             // (seconds) between reannounces
	cleanupInterval    = 30 * time.Minute // to remove stale peers and inactive torrents
	stalePeerThreshold = 60 * time.Minute // allows one missed announce at the default interval

	rateLimitWindow = 2 * time.Minute // window duration for rate limiting
	rateLimitBurst  = 30              // default max announces per rateLimitWindow per IP

	responseContentType = "text/html"
)

// announceRequest holds the decoded query string of an announce request.
type announceRequest struct {
	InfoHash   string `mapstructure:"info_hash"`
	PeerID     string `mapstructure:"peer_id"`
	IP         string `mapstructure:"ip"`
	Event      string `mapstructure:"event"`
	Left       uint64 `mapstructure:"left"`
	Uploaded   uint64 `mapstructure:"uploaded"`
	Downloaded uint64 `mapstructure:"downloaded"`
	NumWant    int    `mapstructure:"numwant"`
	Port       int    `mapstructure:"port"`
	Compact    bool   `mapstructure:"compact"`
}

// requestError is a refusal that is reported to the client as a failure reason.
type requestError struct {
	reason string
	status int
}

func (e *requestError) Error() string { return e.reason }

func badRequest(format string, v ...any) *requestError {
	return &requestError{status: http.StatusBadRequest, reason: fmt.Sprintf(format, v...)}
}

// parseAnnounceRequest decodes and validates the announce query string.
// Numbers arrive as text, so the decoder runs with weak typing.
func parseAnnounceRequest(query url.Values) (announceRequest, error) {
	var req announceRequest

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &req,
	})
	if err != nil {
		return req, err
	}

	flat := make(map[string]any, len(query))
	for k, v := range query {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	if err := dec.Decode(flat); err != nil {
		var derr *mapstructure.Error
		if errors.As(err, &derr) && len(derr.Errors) > 0 {
			return req, badRequest("invalid parameter: %s", derr.Errors[0])
		}
		return req, badRequest("invalid parameter: %v", err)
	}

	switch {
	case len(req.InfoHash) != 20:
		return req, badRequest("invalid info_hash")
	case len(req.PeerID) != 20:
		return req, badRequest("invalid peer_id")
	case req.Port == 0:
		return req, badRequest("port cannot be 0")
	case req.Port < 0 || req.Port > 65535:
		return req, badRequest("invalid port")
	}

	switch req.Event {
	case eventNone, eventStarted, eventCompleted, eventStopped, eventPaused:
	default:
		return req, badRequest("unknown event %q", req.Event)
	}

	return req, nil
}

// calculateNumWant determines the number of peers to return based on client request.
func calculateNumWant(numWant int) int {
	// numwant missing, 0 or negative means "default"
	if numWant <= 0 {
		return defaultNumWant
	}
	return min(numWant, maxNumWant)
}

// determineClientIP returns the address peers should dial.
// An IPv4 client may advertise a different IPv4 address through the ip parameter;
// anything else falls back to the connection's remote address.
func determineClientIP(remoteAddr, ipParam string) (string, error) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	remote := net.ParseIP(host)
	if remote == nil {
		return "", badRequest("cannot determine client address")
	}

	if ipParam != "" && remote.To4() != nil {
		if advertised := net.ParseIP(ipParam); advertised != nil && advertised.To4() != nil {
			return advertised.String(), nil
		}
	}
	return remote.String(), nil
}
