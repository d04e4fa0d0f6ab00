// HTTP Tracker Benchmark Tool
// Simulates concurrent BitTorrent clients announcing to and scraping a tracker
//
// Usage: go run ./benchmark -target http://localhost:6969 -duration 30s -concurrency 100
// Run the tracker with --rate-limit 0, otherwise most requests come back 429.

package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/jackpal/bencode-go"
)

const responseTimeout = 5 * time.Second

// announceReply is the subset of an announce response the benchmark checks.
type announceReply struct {
	FailureReason string `bencode:"failure reason"`
	Peers         []struct {
		IP     string `bencode:"ip"`
		PeerID string `bencode:"peer id"`
		Port   int    `bencode:"port"`
	} `bencode:"peers"`
	Interval   int `bencode:"interval"`
	Complete   int `bencode:"complete"`
	Incomplete int `bencode:"incomplete"`
}

type scrapeReply struct {
	FailureReason string         `bencode:"failure reason"`
	Files         map[string]any `bencode:"files"`
}

// samples holds the latencies one worker observed; workers merge theirs at exit.
type samples struct {
	announce []time.Duration
	scrape   []time.Duration
}

// latencySummary is a sorted view of one request type.
type latencySummary []time.Duration

func summarize(ds []time.Duration) latencySummary {
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	return sorted
}

func (l latencySummary) at(p float64) time.Duration {
	if len(l) == 0 {
		return 0
	}
	return l[min(int(float64(len(l))*p/100.0), len(l)-1)]
}

func (l latencySummary) mean() time.Duration {
	if len(l) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range l {
		sum += d
	}
	return sum / time.Duration(len(l))
}

type counters struct {
	total, ok, failed, limited atomic.Uint64
	peers, bytes               atomic.Uint64
}

type Config struct {
	Target      string
	Duration    time.Duration
	Concurrency int
	RateLimit   int
	NumHashes   int
	NumWant     int
	Compact     bool
}

type Benchmark struct {
	start   time.Time
	client  *http.Client
	stop    chan struct{}
	merged  samples
	Config  Config
	counted counters
	mu      sync.Mutex
}

func NewBenchmark(cfg Config) *Benchmark {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Concurrency

	return &Benchmark{
		client: &http.Client{Timeout: responseTimeout, Transport: transport},
		stop:   make(chan struct{}),
		Config: cfg,
	}
}

func (b *Benchmark) Run() {
	b.start = time.Now()

	fmt.Printf("Benchmarking %s for %s with %d workers (%d hashes each, %d req/s per worker, compact=%t)\n\n",
		b.Config.Target, b.Config.Duration, b.Config.Concurrency, b.Config.NumHashes, b.Config.RateLimit, b.Config.Compact)

	go b.reportProgress()

	var wg sync.WaitGroup
	for i := range b.Config.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.merge(b.worker(i))
		}()
	}

	time.Sleep(b.Config.Duration)
	close(b.stop)
	wg.Wait()
	b.printResults()
}

func (b *Benchmark) merge(s samples) {
	b.mu.Lock()
	b.merged.announce = append(b.merged.announce, s.announce...)
	b.merged.scrape = append(b.merged.scrape, s.scrape...)
	b.mu.Unlock()
}

// worker announces every hash then scrapes the first one, until stopped.
func (b *Benchmark) worker(id int) samples {
	var s samples

	var pace <-chan time.Time
	if b.Config.RateLimit > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(b.Config.RateLimit))
		defer ticker.Stop()
		pace = ticker.C
	}

	peerID := generatePeerID(id)
	port := 10000 + id%50000
	hashes := make([][20]byte, b.Config.NumHashes)
	for i := range hashes {
		hashes[i] = generateInfoHash(id, i)
	}

	for {
		select {
		case <-b.stop:
			return s
		default:
		}
		if pace != nil {
			<-pace
		}

		for _, h := range hashes {
			if d, ok := b.timed(func() error { return b.doAnnounce(h, peerID, port) }); ok {
				s.announce = append(s.announce, d)
			}
		}
		if len(hashes) > 0 {
			if d, ok := b.timed(func() error { return b.doScrape(hashes[0]) }); ok {
				s.scrape = append(s.scrape, d)
			}
		}
	}
}

var errRateLimited = errors.New("rate limited")

// timed runs fn and returns its latency if it succeeded.
func (b *Benchmark) timed(fn func() error) (time.Duration, bool) {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	b.counted.total.Add(1)

	switch {
	case err == nil:
		b.counted.ok.Add(1)
		return elapsed, true
	case errors.Is(err, errRateLimited):
		b.counted.limited.Add(1)
	}
	b.counted.failed.Add(1)
	return 0, false
}

// get fetches path?query and decodes the bencoded body into v.
func (b *Benchmark) get(path string, query url.Values, v any) error {
	resp, err := b.client.Get(b.Config.Target + path + "?" + query.Encode())
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return errRateLimited
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	b.counted.bytes.Add(uint64(len(body)))

	return bencode.Unmarshal(bytes.NewReader(body), v)
}

func (b *Benchmark) doAnnounce(infoHash, peerID [20]byte, port int) error {
	q := url.Values{}
	q.Set("info_hash", string(infoHash[:]))
	q.Set("peer_id", string(peerID[:]))
	q.Set("port", strconv.Itoa(port))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	q.Set("left", "1000")
	q.Set("numwant", strconv.Itoa(b.Config.NumWant))

	if b.Config.Compact {
		q.Set("compact", "1")
		// compact peers are one byte string of 6-byte entries
		var reply struct {
			FailureReason string `bencode:"failure reason"`
			Interval      int    `bencode:"interval"`
			Peers         string `bencode:"peers"`
		}
		if err := b.get("/announce", q, &reply); err != nil {
			return err
		}
		if reply.FailureReason != "" {
			return errors.New(reply.FailureReason)
		}
		b.counted.peers.Add(uint64(len(reply.Peers) / 6))
		return nil
	}

	var reply announceReply
	if err := b.get("/announce", q, &reply); err != nil {
		return err
	}
	if reply.FailureReason != "" {
		return errors.New(reply.FailureReason)
	}
	b.counted.peers.Add(uint64(len(reply.Peers)))
	return nil
}

func (b *Benchmark) doScrape(infoHash [20]byte) error {
	var reply scrapeReply
	if err := b.get("/scrape", url.Values{"info_hash": {string(infoHash[:])}}, &reply); err != nil {
		return err
	}
	if reply.FailureReason != "" {
		return errors.New(reply.FailureReason)
	}
	if _, ok := reply.Files[string(infoHash[:])]; !ok {
		return errors.New("scrape reply is missing the requested info hash")
	}
	return nil
}

func (b *Benchmark) reportProgress() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			elapsed := time.Since(b.start)
			total := b.counted.total.Load()
			fmt.Printf("[%s] requests=%d rps=%.0f ok=%d failed=%d\n",
				elapsed.Round(time.Second), total, float64(total)/elapsed.Seconds(),
				b.counted.ok.Load(), b.counted.failed.Load())
		case <-b.stop:
			return
		}
	}
}

func (b *Benchmark) printResults() {
	elapsed := time.Since(b.start)
	total := b.counted.total.Load()
	ok := b.counted.ok.Load()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "\nduration\t%s\n", elapsed.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "requests\t%d\t%.2f/s\n", total, float64(total)/elapsed.Seconds())
	if total > 0 {
		_, _ = fmt.Fprintf(w, "ok\t%d\t%.2f%%\n", ok, float64(ok)/float64(total)*100)
	}
	_, _ = fmt.Fprintf(w, "failed\t%d\t(%d rate limited)\n", b.counted.failed.Load(), b.counted.limited.Load())
	_, _ = fmt.Fprintf(w, "peers returned\t%d\n", b.counted.peers.Load())
	_, _ = fmt.Fprintf(w, "bytes received\t%d\n\n", b.counted.bytes.Load())

	_, _ = fmt.Fprintln(w, "latency\tn\tmin\tavg\tp50\tp95\tp99\tmax")
	announces := summarize(b.merged.announce)
	for _, row := range []struct {
		name string
		l    latencySummary
	}{{"announce", announces}, {"scrape", summarize(b.merged.scrape)}} {
		if len(row.l) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n", row.name, len(row.l),
			row.l[0], row.l.mean(), row.l.at(50), row.l.at(95), row.l.at(99), row.l[len(row.l)-1])
	}
	_ = w.Flush()

	if total > 0 && float64(ok)/float64(total) < 0.95 {
		fmt.Println("\nWARNING: error rate is above 5%. Check the tracker log and its --rate-limit.")
	}
	if announces.at(95) > 50*time.Millisecond {
		fmt.Println("WARNING: announce p95 is above 50ms. Consider reducing concurrency.")
	}
}

// generateInfoHash creates a deterministic 20-byte info hash for testing.
func generateInfoHash(workerID, hashID int) [20]byte {
	var hash [20]byte
	//nolint:gosec // G115: ids are small
	binary.BigEndian.PutUint32(hash[0:4], uint32(workerID))
	//nolint:gosec // G115: ids are small
	binary.BigEndian.PutUint32(hash[4:8], uint32(hashID))
	for i := 8; i < 20; i++ {
		hash[i] = byte(i)
	}
	return hash
}

// generatePeerID creates an Azureus-style peer ID for testing.
func generatePeerID(workerID int) [20]byte {
	var id [20]byte
	copy(id[0:8], "-PS0001-")
	//nolint:gosec // G115: ids are small
	binary.BigEndian.PutUint32(id[8:12], uint32(workerID))
	//nolint:gosec // G115: truncation is fine for a unique suffix
	binary.BigEndian.PutUint32(id[12:16], uint32(time.Now().UnixNano()))
	return id
}

func main() {
	var config Config

	flag.StringVar(&config.Target, "target", "http://localhost:6969", "Tracker base URL")
	duration := flag.Duration("duration", 30*time.Second, "Benchmark duration")
	flag.IntVar(&config.Concurrency, "concurrency", 100, "Number of concurrent workers")
	flag.IntVar(&config.RateLimit, "rate", 0, "Rate limit per worker (req/s, 0=unlimited)")
	flag.IntVar(&config.NumHashes, "hashes", 5, "Number of info hashes per worker")
	flag.IntVar(&config.NumWant, "numwant", 50, "Number of peers to request")
	flag.BoolVar(&config.Compact, "compact", false, "Request compact peer lists")
	flag.Parse()

	config.Duration = *duration

	if config.Concurrency < 1 {
		log.Fatal("Concurrency must be at least 1")
	}

	NewBenchmark(config).Run()
}
