package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/session"
)

// StreamMode selects how notifications are grouped before printing.
type StreamMode int

const (
	StreamEveryUpdate StreamMode = iota
	StreamBatched
	StreamAggregated
)

// DefaultBatchedInterval applies to batched and latest modes when no rate is given.
const DefaultBatchedInterval = time.Second

// parseStreamMode converts CLI mode string to StreamMode
func parseStreamMode(mode string) (StreamMode, error) {
	switch strings.ToLower(mode) {
	case "live", "instant", "every":
		return StreamEveryUpdate, nil
	case "batched", "batch":
		return StreamBatched, nil
	case "latest", "aggregated":
		return StreamAggregated, nil
	default:
		return 0, fmt.Errorf("invalid mode %q: use live, batched, or latest", mode)
	}
}

// Record is one printed unit: a single notification in live mode, otherwise everything
// collected during one rate interval.
type Record struct {
	At          time.Time
	Values      map[string][]byte   // live and latest modes
	BatchValues map[string][][]byte // batched mode
}

func newRecord(mode StreamMode) *Record {
	r := &Record{At: time.Now()}
	if mode == StreamBatched {
		r.BatchValues = make(map[string][][]byte)
	} else {
		r.Values = make(map[string][]byte)
	}
	return r
}

// streamer groups notifications into records according to its mode.
type streamer struct {
	mode    StreamMode
	rate    time.Duration
	emit    func(*Record)
	pending *Record
}

// run consumes notifications until ctx ends or the link drops. A partially filled record is
// emitted before returning.
func (s *streamer) run(ctx context.Context, notifications <-chan session.CharacteristicNotify, states <-chan session.StateChanged) error {
	var tick <-chan time.Time
	if s.mode != StreamEveryUpdate {
		if s.rate <= 0 {
			s.rate = DefaultBatchedInterval
		}
		ticker := time.NewTicker(s.rate)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return nil
		case sc := <-states:
			if sc.State == device.Disconnected {
				s.flush()
				return fmt.Errorf("%s: %w", sc.Address, ErrConnectionLost)
			}
		case n := <-notifications:
			s.add(n)
		case <-tick:
			s.flush()
		}
	}
}

func (s *streamer) add(n session.CharacteristicNotify) {
	switch s.mode {
	case StreamBatched:
		r := s.record()
		r.BatchValues[n.Characteristic] = append(r.BatchValues[n.Characteristic], n.Value)
	case StreamAggregated:
		s.record().Values[n.Characteristic] = n.Value
	default:
		r := newRecord(StreamEveryUpdate)
		r.Values[n.Characteristic] = n.Value
		s.emit(r)
	}
}

func (s *streamer) record() *Record {
	if s.pending == nil {
		s.pending = newRecord(s.mode)
	}
	return s.pending
}

func (s *streamer) flush() {
	if s.pending == nil {
		return
	}
	s.emit(s.pending)
	s.pending = nil
}

// printRecord writes one line per characteristic, in identifier order.
func printRecord(out io.Writer, r *Record, asHex bool) {
	ts := r.At.Format("15:04:05.000")
	if r.BatchValues != nil {
		for _, id := range sortedKeys(r.BatchValues) {
			values := make([]string, 0, len(r.BatchValues[id]))
			for _, v := range r.BatchValues[id] {
				values = append(values, formatValue(v, asHex))
			}
			fmt.Fprintf(out, "%s %s: %s\n", ts, shortID(id), strings.Join(values, " "))
		}
		return
	}
	for _, id := range sortedKeys(r.Values) {
		fmt.Fprintf(out, "%s %s: %s\n", ts, shortID(id), formatValue(r.Values[id], asHex))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// shortID returns the 16-bit form of SIG identifiers and the full identifier otherwise.
func shortID(id string) string {
	if short := device.NormalizeUUID(id); len(short) == 4 {
		return short
	}
	return id
}
