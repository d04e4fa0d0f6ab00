package announce

import "github.com/fabricionaweb/pico-swarm/internal/bencode"

// ScrapeFile holds the counters reported for one info hash (BEP 48).
type ScrapeFile struct {
	Complete   int
	Downloaded int
	Incomplete int
}

// BuildScrape returns {"files": {<20-byte info hash>: {"complete","downloaded","incomplete"}}}.
func BuildScrape(files map[[20]byte]ScrapeFile) bencode.Value {
	out := make(bencode.Dict, len(files))
	for hash, f := range files {
		out[string(hash[:])] = bencode.Dict{
			"complete":   bencode.Int(f.Complete),
			"downloaded": bencode.Int(f.Downloaded),
			"incomplete": bencode.Int(f.Incomplete),
		}
	}
	return bencode.Dict{"files": out}
}
