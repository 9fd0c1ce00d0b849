// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// FeedFormat is the wire format a threat feed is parsed with.
type FeedFormat string

const (
	FeedFormatCSV  FeedFormat = "csv"
	FeedFormatJSON FeedFormat = "json"
	FeedFormatYAML FeedFormat = "yaml"
)

// FeedIndicator is one entry from a threat feed: an address or CIDR flagged
// by the feed's publisher, along with the feed's own classification.
type FeedIndicator struct {
	Value     string    `json:"value" yaml:"value"`
	Kind      string    `json:"kind" yaml:"kind"`
	FirstSeen time.Time `json:"first_seen,omitempty" yaml:"first_seen,omitempty"`
}

// FeedSource polls a single HTTP(S) threat feed on an interval, parses its
// indicator list, and evicts entries older than AgeMax (§3.1 supplemental
// feature: threat-feed polling referenced by the Correlator's feed-indicator
// scoring signal, §4.6).
type FeedSource struct {
	SourceName string
	URL        string
	Format     FeedFormat
	Interval   time.Duration
	AgeMax     time.Duration
	Client     *http.Client

	mu         sync.RWMutex
	indicators map[string]FeedIndicator
}

func (f *FeedSource) Name() string { return f.SourceName }

// Count returns the number of indicators currently held, for periodic
// gauge reporting.
func (f *FeedSource) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.indicators)
}

// Lookup reports whether value currently appears in the feed's indicator
// set, for the Correlator's feed-hit scoring signal.
func (f *FeedSource) Lookup(value string) (FeedIndicator, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ind, ok := f.indicators[value]
	return ind, ok
}

// Start polls the feed on Interval until ctx is canceled. Parse errors are
// logged and skipped; they never emit a SecurityEvent — feed ingestion only
// refreshes the indicator set Lookup serves, it doesn't itself report
// observations to the bus.
func (f *FeedSource) Start(ctx context.Context, emit func(store.SecurityEvent)) error {
	interval := f.Interval
	if interval == 0 {
		interval = 15 * time.Minute
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	f.refresh(ctx, client)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.refresh(ctx, client)
		}
	}
}

func (f *FeedSource) refresh(ctx context.Context, client *http.Client) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		logging.Warn("failed to build feed request", "feed", f.SourceName, "error", err)
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		logging.Warn("feed poll failed", "feed", f.SourceName, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logging.Warn("feed poll returned non-200", "feed", f.SourceName, "status", resp.StatusCode)
		return
	}

	fresh, err := parseFeed(f.Format, resp.Body)
	if err != nil {
		logging.Warn("failed to parse feed body", "feed", f.SourceName, "error", err)
		return
	}

	now := time.Now()
	merged := make(map[string]FeedIndicator, len(fresh))
	f.mu.RLock()
	for k, v := range f.indicators {
		merged[k] = v
	}
	f.mu.RUnlock()

	for _, ind := range fresh {
		if ind.FirstSeen.IsZero() {
			if existing, ok := merged[ind.Value]; ok {
				ind.FirstSeen = existing.FirstSeen
			} else {
				ind.FirstSeen = now
			}
		}
		merged[ind.Value] = ind
	}

	if f.AgeMax > 0 {
		for k, v := range merged {
			if now.Sub(v.FirstSeen) > f.AgeMax {
				delete(merged, k)
			}
		}
	}

	f.mu.Lock()
	f.indicators = merged
	f.mu.Unlock()
}

func parseFeed(format FeedFormat, body io.Reader) ([]FeedIndicator, error) {
	switch format {
	case FeedFormatJSON:
		var raw []FeedIndicator
		if err := json.NewDecoder(body).Decode(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	case FeedFormatYAML:
		var raw []FeedIndicator
		if err := yaml.NewDecoder(body).Decode(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	default:
		return parseFeedCSV(body)
	}
}

func parseFeedCSV(body io.Reader) ([]FeedIndicator, error) {
	reader := csv.NewReader(bufio.NewReader(body))
	reader.FieldsPerRecord = -1
	var out []FeedIndicator
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 {
			continue
		}
		value := strings.TrimSpace(record[0])
		if value == "" || strings.HasPrefix(value, "#") {
			continue
		}
		kind := "unspecified"
		if len(record) > 1 {
			kind = strings.TrimSpace(record[1])
		}
		out = append(out, FeedIndicator{Value: value, Kind: kind})
	}
	return out, nil
}
