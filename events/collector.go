/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package events implements the in-worker event counter and execution-time
// histogram (C7): a counter map, an exec-time bucket map, merge/prune with
// the invariants spec'd in §3/§4.6/§8, and an explicit collector stack used
// to scope per-request metrics and fold them into process-wide totals.
//
// Unlike the Python original this stack is not a process-global; the
// current collector is passed explicitly by the caller per spec §9's design
// note. The worker loops (httpworker, fcgiworker) hold the *Collector they
// are given in their Collector field and do not use a Stack.
package events

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

// validKey matches spec §3's key grammar: "[-_.A-Za-z0-9]+". An integer key
// is represented as its decimal string form (KeyInt), which always matches
// this same pattern.
var validKey = regexp.MustCompile(`^[-_.A-Za-z0-9]+$`)

// IsValidKey reports whether key is an acceptable counter/exec-time label.
func IsValidKey(key string) bool {
	return key != "" && validKey.MatchString(key)
}

// KeyInt renders an integer key in the canonical string form used as a map
// key, matching is_valid_key's acceptance of int/long keys in the original.
func KeyInt(n int) string {
	return strconv.Itoa(n)
}

// counterEntry is a (count, last_updated) pair.
type counterEntry struct {
	count       int64
	lastUpdated time.Time
}

// CounterMap is label -> (integer count, last-updated timestamp), with
// monotone-non-decreasing counts under merge (§3 invariant).
type CounterMap struct {
	mu      sync.Mutex
	entries map[string]counterEntry
}

// NewCounterMap returns an empty CounterMap.
func NewCounterMap() *CounterMap {
	return &CounterMap{entries: make(map[string]counterEntry)}
}

// Increment adds delta to key's count and advances last_updated to
// max(existing, now). Invalid keys are silently rejected (matching the
// original's log-and-return behavior — it never raises to the caller).
func (m *CounterMap) Increment(key string, delta int64, now time.Time) {
	if !IsValidKey(key) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[key]
	e.count += delta
	if now.After(e.lastUpdated) {
		e.lastUpdated = now
	}
	m.entries[key] = e
}

// Get returns the current count and last-updated timestamp for key.
func (m *CounterMap) Get(key string) (count int64, lastUpdated time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e.count, e.lastUpdated, ok
}

// Merge folds other into m: counts add, last_updated takes the max. Merge
// is commutative and associative over the resulting (count, last_updated)
// pairs (§3, §8).
func (m *CounterMap) Merge(other *CounterMap) {
	other.mu.Lock()
	snapshot := make(map[string]counterEntry, len(other.entries))
	for k, v := range other.entries {
		snapshot[k] = v
	}
	other.mu.Unlock()

	for k, e := range snapshot {
		m.Increment(k, e.count, e.lastUpdated)
	}
}

// Prune drops any key whose last_updated is older than now-maxInactivity,
// or that fails key validation (§3, §8: "no entry has last_updated <
// now - T" after Prune(T) at now).
func (m *CounterMap) Prune(maxInactivity time.Duration, now time.Time) {
	cutoff := now.Add(-maxInactivity)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.lastUpdated.Before(cutoff) || !IsValidKey(k) {
			delete(m.entries, k)
		}
	}
}

// Keys returns a sorted snapshot of the currently held keys.
func (m *CounterMap) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultGranularityMS is the default exec-time bucket width, 10ms, a
// floor-division bucket rather than a rounding bucket: bucket 0 means
// "<10ms" (§9 design note).
const DefaultGranularityMS = 10

// execBucket is label -> inner CounterMap keyed by bucket index, plus the
// label's own last-updated timestamp.
type execBucket struct {
	counts      *CounterMap
	lastUpdated time.Time
}

// ExecTimeMap buckets execution-time samples by floor((seconds*1000)/granularity)*granularity
// milliseconds, with one inner CounterMap per label.
type ExecTimeMap struct {
	granularityMS int64

	mu      sync.Mutex
	entries map[string]*execBucket
}

// NewExecTimeMap returns an ExecTimeMap with the given bucket granularity,
// in milliseconds. A granularity <= 0 falls back to DefaultGranularityMS.
func NewExecTimeMap(granularityMS int64) *ExecTimeMap {
	if granularityMS <= 0 {
		granularityMS = DefaultGranularityMS
	}
	return &ExecTimeMap{
		granularityMS: granularityMS,
		entries:       make(map[string]*execBucket),
	}
}

// bucketMS floors a duration in seconds to this map's granularity.
func (m *ExecTimeMap) bucketMS(execSeconds float64) int64 {
	ms := int64(execSeconds * 1000 / float64(m.granularityMS))
	return ms * m.granularityMS
}

// LogExecTime records one sample of execSeconds under key.
func (m *ExecTimeMap) LogExecTime(key string, execSeconds float64, now time.Time) {
	if !IsValidKey(key) {
		return
	}
	bucket := m.bucketMS(execSeconds)

	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &execBucket{counts: NewCounterMap()}
		m.entries[key] = e
	}
	m.mu.Unlock()

	e.counts.Increment(KeyInt(int(bucket)), 1, now)

	m.mu.Lock()
	if now.After(e.lastUpdated) {
		e.lastUpdated = now
	}
	m.mu.Unlock()
}

// Merge folds other's per-label bucket maps into m.
func (m *ExecTimeMap) Merge(other *ExecTimeMap) {
	other.mu.Lock()
	labels := make([]string, 0, len(other.entries))
	for k := range other.entries {
		labels = append(labels, k)
	}
	other.mu.Unlock()

	for _, label := range labels {
		other.mu.Lock()
		oe := other.entries[label]
		other.mu.Unlock()

		m.mu.Lock()
		e, ok := m.entries[label]
		if !ok {
			e = &execBucket{counts: NewCounterMap()}
			m.entries[label] = e
		}
		m.mu.Unlock()

		e.counts.Merge(oe.counts)

		m.mu.Lock()
		if oe.lastUpdated.After(e.lastUpdated) {
			e.lastUpdated = oe.lastUpdated
		}
		m.mu.Unlock()
	}
}

// Prune drops any label whose last_updated is older than now-maxInactivity
// or that fails key validation.
func (m *ExecTimeMap) Prune(maxInactivity time.Duration, now time.Time) {
	cutoff := now.Add(-maxInactivity)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.lastUpdated.Before(cutoff) || !IsValidKey(k) {
			delete(m.entries, k)
		}
	}
}

// Stats is the summary computed by GetStats for one label: min, average,
// median, standard deviation, max, sample count, and any requested
// percentiles (§4.6).
type Stats struct {
	Min         float64
	Average     float64
	Median      float64
	StdDev      float64
	Max         float64
	SampleCount int
	Percentiles map[int]float64
}

// GetStats flattens label's bucket samples into a sorted list and computes
// summary statistics plus the requested percentiles. Percentile indexing is
// floor(sample_count * p/100), clamped to sample_count-1 so p=100 does not
// read one past the end — a deliberate fix over the Python original, which
// does not clamp (§9 "known edge to fix in the reimplementation").
func (m *ExecTimeMap) GetStats(label string, percentiles []int) (Stats, bool) {
	m.mu.Lock()
	e, ok := m.entries[label]
	m.mu.Unlock()
	if !ok {
		return Stats{}, false
	}

	// Flattening into one sample per occurrence is what the original does
	// (event_collector.py's get_stats_map); fine at the sample volumes a
	// single worker accumulates between prunes, wasteful at very large N.
	var samples []float64
	for _, k := range e.counts.Keys() {
		ms, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		count, _, _ := e.counts.Get(k)
		for i := int64(0); i < count; i++ {
			samples = append(samples, float64(ms))
		}
	}
	if len(samples) == 0 {
		return Stats{}, false
	}

	sort.Float64s(samples)

	n := len(samples)
	var total float64
	for _, v := range samples {
		total += v
	}
	avg := total / float64(n)

	var sumSq float64
	for _, v := range samples {
		d := v - avg
		sumSq += d * d
	}
	denom := n - 1
	if denom <= 0 {
		denom = 1
	}
	stdDev := math.Sqrt(sumSq / float64(denom))

	s := Stats{
		Min:         samples[0],
		Average:     avg,
		Median:      samples[n/2],
		StdDev:      stdDev,
		Max:         samples[n-1],
		SampleCount: n,
		Percentiles: make(map[int]float64, len(percentiles)),
	}

	for _, p := range percentiles {
		idx := n * p / 100
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		s.Percentiles[p] = samples[idx]
	}

	return s, true
}

// Labels returns a sorted snapshot of the currently held labels.
func (m *ExecTimeMap) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	labels := make([]string, 0, len(m.entries))
	for k := range m.entries {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// Collector is the worker-local event counter + execution-time histogram.
type Collector struct {
	Counters  *CounterMap
	ExecTimes *ExecTimeMap
}

// New returns an empty Collector with the default exec-time granularity.
func New() *Collector {
	return &Collector{
		Counters:  NewCounterMap(),
		ExecTimes: NewExecTimeMap(DefaultGranularityMS),
	}
}

// Increment is a convenience forward to Counters.Increment.
func (c *Collector) Increment(key string, delta int64, now time.Time) {
	c.Counters.Increment(key, delta, now)
}

// LogExecTime is a convenience forward to ExecTimes.LogExecTime.
func (c *Collector) LogExecTime(key string, execSeconds float64, now time.Time) {
	c.ExecTimes.LogExecTime(key, execSeconds, now)
}

// Merge folds other's counters and exec-times into c.
func (c *Collector) Merge(other *Collector) {
	c.Counters.Merge(other.Counters)
	c.ExecTimes.Merge(other.ExecTimes)
}

// Prune drops stale entries from both maps.
func (c *Collector) Prune(maxInactivity time.Duration, now time.Time) {
	c.Counters.Prune(maxInactivity, now)
	c.ExecTimes.Prune(maxInactivity, now)
}
