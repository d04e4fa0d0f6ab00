package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/fabricionaweb/pico-swarm/internal/announce"
	"github.com/fabricionaweb/pico-swarm/internal/bencode"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	peerA = "AAAAABBBBBCCCCCDDDDD"
	peerB = "BBBBBBBBBBBBBBBBBBBB"
)

type announceParams struct {
	infoHash string
	peerID   string
	event    string
	ip       string
	left     uint64
	port     int
	numWant  int
	compact  bool
}

func (p announceParams) query() url.Values {
	q := url.Values{}
	q.Set("info_hash", p.infoHash)
	q.Set("peer_id", p.peerID)
	q.Set("port", strconv.Itoa(p.port))
	q.Set("left", strconv.FormatUint(p.left, 10))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	if p.event != "" {
		q.Set("event", p.event)
	}
	if p.ip != "" {
		q.Set("ip", p.ip)
	}
	if p.numWant != 0 {
		q.Set("numwant", strconv.Itoa(p.numWant))
	}
	if p.compact {
		q.Set("compact", "1")
	}
	return q
}

func setupTracker(t *testing.T) (*Tracker, http.Handler) {
	t.Helper()
	tr := newTracker(defaultInterval)
	return tr, tr.routes()
}

func doRequest(h http.Handler, method, target, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doAnnounce(h http.Handler, remoteAddr string, p announceParams) *httptest.ResponseRecorder {
	return doRequest(h, http.MethodGet, announcePath+"?"+p.query().Encode(), remoteAddr)
}

func seederA() announceParams {
	return announceParams{infoHash: string(testInfoHash[:]), peerID: peerA, port: 6881, left: 0, event: eventStarted}
}

func leecherB() announceParams {
	return announceParams{infoHash: string(testInfoHash[:]), peerID: peerB, port: 6882, left: 100, event: eventStarted}
}

func TestHandleAnnounce_ResponseFormat(t *testing.T) {
	_, h := setupTracker(t)

	rec := doAnnounce(h, "127.0.0.1:5000", seederA())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "d8:completei1e10:incompletei0e8:intervali1800e5:peerslee", rec.Body.String())

	rec = doAnnounce(h, "127.0.0.2:5000", leecherB())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, responseContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"d8:completei1e10:incompletei1e8:intervali1800e5:peersld2:ip9:127.0.0.17:peer id20:AAAAABBBBBCCCCCDDDDD4:porti6881eeee",
		rec.Body.String())
}

func TestHandleAnnounce_ResponseInterval(t *testing.T) {
	tr := newTracker(900)
	rec := doAnnounce(tr.routes(), "127.0.0.1:5000", seederA())
	require.Equal(t, http.StatusOK, rec.Code)

	resp, err := announce.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 900, resp.Interval)
}

func TestHandleAnnounce_RequestID(t *testing.T) {
	_, h := setupTracker(t)

	first := doAnnounce(h, "127.0.0.1:5000", seederA()).Header().Get(requestIDHeader)
	second := doAnnounce(h, "127.0.0.1:5000", seederA()).Header().Get(requestIDHeader)

	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestHandleAnnounce_Compact(t *testing.T) {
	_, h := setupTracker(t)
	require.Equal(t, http.StatusOK, doAnnounce(h, "10.0.0.1:5000", seederA()).Code)

	p := leecherB()
	p.compact = true
	rec := doAnnounce(h, "10.0.0.2:5000", p)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "5:peers6:\x0a\x00\x00\x01\x1a\xe1")

	resp, err := announce.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "10.0.0.1:6881", resp.Peers[0].Addr())
}

func TestHandleAnnounce_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*announceParams)
		status int
		reason string
	}{
		{"missing info_hash", func(p *announceParams) { p.infoHash = "" }, http.StatusBadRequest, "invalid info_hash"},
		{"short info_hash", func(p *announceParams) { p.infoHash = "short" }, http.StatusBadRequest, "invalid info_hash"},
		{"short peer_id", func(p *announceParams) { p.peerID = "abc" }, http.StatusBadRequest, "invalid peer_id"},
		{"port zero", func(p *announceParams) { p.port = 0 }, http.StatusBadRequest, "port cannot be 0"},
		{"port too large", func(p *announceParams) { p.port = 70000 }, http.StatusBadRequest, "invalid port"},
		{"unknown event", func(p *announceParams) { p.event = "bogus" }, http.StatusBadRequest, `unknown event "bogus"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := setupTracker(t)
			p := seederA()
			tt.mutate(&p)

			rec := doAnnounce(h, "127.0.0.1:5000", p)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(announce.EncodeFailure(tt.reason)), rec.Body.String())

			_, err := announce.Parse(rec.Body.Bytes())
			var ferr *announce.FailureError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tt.reason, ferr.Reason)
		})
	}

	t.Run("non-numeric port", func(t *testing.T) {
		_, h := setupTracker(t)
		q := seederA().query()
		q.Set("port", "abc")

		rec := doRequest(h, http.MethodGet, announcePath+"?"+q.Encode(), "127.0.0.1:5000")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid parameter")
	})
}

func TestHandleAnnounce_MethodNotAllowed(t *testing.T) {
	_, h := setupTracker(t)

	rec := doRequest(h, http.MethodPost, announcePath+"?"+seederA().query().Encode(), "127.0.0.1:5000")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
	assert.Equal(t, string(announce.EncodeFailure("method not allowed")), rec.Body.String())
}

func TestHandleAnnounce_NotWhitelisted(t *testing.T) {
	tr, h := setupTracker(t)
	tr.allow = staticAllowList(NewHashID([]byte("other_torrent_hash__")))

	rec := doAnnounce(h, "127.0.0.1:5000", seederA())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(announce.EncodeFailure("torrent not authorized")), rec.Body.String())
	assert.Nil(t, tr.getTorrent(testInfoHash), "refused announce leaves no state")
}

func TestHandleAnnounce_RateLimitExceeded(t *testing.T) {
	_, h := setupTracker(t)

	for i := 0; i < rateLimitBurst; i++ {
		require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.1:5000", seederA()).Code, "request %d", i)
	}

	rec := doAnnounce(h, "127.0.0.1:5001", seederA())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	// other clients are unaffected
	assert.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.2:5000", leecherB()).Code)
}

func TestHandleAnnounce_Events(t *testing.T) {
	t.Run("stopped removes the peer", func(t *testing.T) {
		tr, h := setupTracker(t)
		require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.1:5000", seederA()).Code)

		p := seederA()
		p.event = eventStopped
		require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.1:5000", p).Code)

		torrent := tr.getTorrent(testInfoHash)
		require.NotNil(t, torrent)
		assert.Empty(t, torrent.peers)
		assert.Equal(t, 0, torrent.seeders)
	})

	t.Run("completed turns a leecher into a seeder", func(t *testing.T) {
		tr, h := setupTracker(t)
		require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.2:5000", leecherB()).Code)

		p := leecherB()
		p.event = eventCompleted
		require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.2:5000", p).Code)

		s := tr.getTorrent(testInfoHash).stats()
		assert.Equal(t, announce.ScrapeFile{Complete: 1, Downloaded: 1, Incomplete: 0}, s)
	})

	t.Run("regular announce keeps the role", func(t *testing.T) {
		tr, h := setupTracker(t)
		p := leecherB()
		require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.2:5000", p).Code)
		p.event = eventNone
		require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.2:5000", p).Code)

		torrent := tr.getTorrent(testInfoHash)
		assert.Equal(t, 1, torrent.leechers)
		assert.Equal(t, 0, torrent.seeders)
	})
}

func TestHandleAnnounce_NumWant(t *testing.T) {
	_, h := setupTracker(t)
	for i := 0; i < 5; i++ {
		p := leecherB()
		p.peerID = "peer" + strconv.Itoa(1000000000000000+i)
		require.Equal(t, http.StatusOK, doAnnounce(h, "10.0.0."+strconv.Itoa(i+1)+":5000", p).Code)
	}

	p := seederA()
	p.numWant = 2
	resp, err := announce.Parse(doAnnounce(h, "10.0.1.1:5000", p).Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, resp.Peers, 2)

	p.numWant = 0
	resp, err = announce.Parse(doAnnounce(h, "10.0.1.1:5000", p).Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, resp.Peers, 5)
}

func TestHandleAnnounce_ClientIP(t *testing.T) {
	t.Run("IPv4 client may advertise an address", func(t *testing.T) {
		tr, h := setupTracker(t)
		p := seederA()
		p.ip = "10.1.2.3"
		require.Equal(t, http.StatusOK, doAnnounce(h, "192.0.2.1:5000", p).Code)
		assert.Equal(t, "10.1.2.3", tr.getTorrent(testInfoHash).peers[NewHashID([]byte(peerA))].IP)
	})

	t.Run("IPv6 client keeps its remote address", func(t *testing.T) {
		tr, h := setupTracker(t)
		p := seederA()
		p.ip = "10.1.2.3"
		require.Equal(t, http.StatusOK, doAnnounce(h, "[2001:db8::1]:5000", p).Code)
		assert.Equal(t, "2001:db8::1", tr.getTorrent(testInfoHash).peers[NewHashID([]byte(peerA))].IP)
	})

	t.Run("IPv6 peers are listed in dictionary form", func(t *testing.T) {
		_, h := setupTracker(t)
		require.Equal(t, http.StatusOK, doAnnounce(h, "[2001:db8::1]:5000", seederA()).Code)

		resp, err := announce.Parse(doAnnounce(h, "192.0.2.1:5000", leecherB()).Body.Bytes())
		require.NoError(t, err)
		require.Len(t, resp.Peers, 1)
		assert.Equal(t, "[2001:db8::1]:6881", resp.Peers[0].Addr())
	})
}

func TestHandleScrape(t *testing.T) {
	_, h := setupTracker(t)
	require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.1:5000", seederA()).Code)

	t.Run("existing torrent", func(t *testing.T) {
		q := url.Values{"info_hash": {string(testInfoHash[:])}}
		rec := doRequest(h, http.MethodGet, scrapePath+"?"+q.Encode(), "127.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t,
			"d5:filesd20:12345678901234567890d8:completei1e10:downloadedi1e10:incompletei0eeee",
			rec.Body.String())
	})

	t.Run("unknown torrent reports zeros", func(t *testing.T) {
		q := url.Values{"info_hash": {"unknown_torrent_hash"}}
		rec := doRequest(h, http.MethodGet, scrapePath+"?"+q.Encode(), "127.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t,
			"d5:filesd20:unknown_torrent_hashd8:completei0e10:downloadedi0e10:incompletei0eeee",
			rec.Body.String())
	})

	t.Run("multiple hashes", func(t *testing.T) {
		q := url.Values{"info_hash": {string(testInfoHash[:]), "unknown_torrent_hash"}}
		rec := doRequest(h, http.MethodGet, scrapePath+"?"+q.Encode(), "127.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "20:12345678901234567890d8:completei1e")
		assert.Contains(t, rec.Body.String(), "20:unknown_torrent_hashd8:completei0e")
	})
}

func TestHandleScrape_Failures(t *testing.T) {
	_, h := setupTracker(t)

	tooMany := url.Values{}
	for i := 0; i <= maxScrapeHashes; i++ {
		tooMany.Add("info_hash", string(testInfoHash[:]))
	}

	tests := []struct {
		name   string
		query  string
		reason string
	}{
		{"no info hashes", "", "no info hashes provided"},
		{"bad length", url.Values{"info_hash": {"short"}}.Encode(), "invalid info_hash"},
		{"too many", tooMany.Encode(), "too many info hashes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodGet, scrapePath+"?"+tt.query, "127.0.0.1:5000")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(announce.EncodeFailure(tt.reason)), rec.Body.String())
		})
	}
}

func TestHandleScrape_NotWhitelisted(t *testing.T) {
	tr, h := setupTracker(t)
	require.Equal(t, http.StatusOK, doAnnounce(h, "127.0.0.1:5000", seederA()).Code)

	tr.allow = staticAllowList()

	q := url.Values{"info_hash": {string(testInfoHash[:])}}
	rec := doRequest(h, http.MethodGet, scrapePath+"?"+q.Encode(), "127.0.0.1:5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "d8:completei0e10:downloadedi0e10:incompletei0ee")
}

func TestHandlers_EncoderRange(t *testing.T) {
	internalError := string(announce.EncodeFailure("internal error"))

	t.Run("announce interval beyond range", func(t *testing.T) {
		tr := newTracker(defaultInterval)
		tr.enc = bencode.Encoder{Max: 100}

		rec := doAnnounce(tr.routes(), "127.0.0.1:5000", seederA())
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, internalError, rec.Body.String())
	})

	t.Run("scrape zero counts below range", func(t *testing.T) {
		tr := newTracker(defaultInterval)
		tr.enc = bencode.Encoder{Min: 1, Max: 100}

		q := url.Values{"info_hash": {"unknown_torrent_hash"}}
		rec := doRequest(tr.routes(), http.MethodGet, scrapePath+"?"+q.Encode(), "127.0.0.1:5000")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, internalError, rec.Body.String())
	})

	t.Run("safe encoder passes normal responses", func(t *testing.T) {
		tr := newTracker(defaultInterval)
		tr.enc = bencode.SafeEncoder

		rec := doAnnounce(tr.routes(), "127.0.0.1:5000", seederA())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "d8:completei1e10:incompletei0e8:intervali1800e5:peerslee", rec.Body.String())
	})
}

func TestRoutes_UnknownPath(t *testing.T) {
	_, h := setupTracker(t)
	rec := doRequest(h, http.MethodGet, "/nope", "127.0.0.1:5000")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFullFlow_AnnounceWithPeerExchange(t *testing.T) {
	_, h := setupTracker(t)

	resp, err := announce.Parse(doAnnounce(h, "10.0.0.1:5000", seederA()).Body.Bytes())
	require.NoError(t, err)
	assert.Empty(t, resp.Peers, "first peer sees nobody")

	resp, err = announce.Parse(doAnnounce(h, "10.0.0.2:5000", leecherB()).Body.Bytes())
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, peerA, string(resp.Peers[0].PeerID[:]))

	resp, err = announce.Parse(doAnnounce(h, "10.0.0.1:5000", seederA()).Body.Bytes())
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, peerB, string(resp.Peers[0].PeerID[:]))
	assert.Equal(t, "10.0.0.2:6882", resp.Peers[0].Addr())
}
