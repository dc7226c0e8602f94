package metrics

import (
	"testing"
	"time"
)

func TestNew_StartTimeSet(t *testing.T) {
	before := time.Now()
	m := New()
	after := time.Now()

	if m.startTime.Before(before) || m.startTime.After(after) {
		t.Errorf("startTime %v not in expected range [%v, %v]", m.startTime, before, after)
	}
}

func TestZeroValue_SnapshotSafe(t *testing.T) {
	var m Metrics
	s := m.Snapshot()
	if s.Requests.Total != 0 {
		t.Errorf("expected 0 total requests, got %d", s.Requests.Total)
	}
}

func TestRequestCounters(t *testing.T) {
	m := New()
	m.RequestsTotal.Add(10)
	m.RequestsRedacted.Add(7)
	m.RequestsPassthrough.Add(2)
	m.RequestsAuth.Add(1)

	s := m.Snapshot()
	if s.Requests.Total != 10 {
		t.Errorf("Total: got %d, want 10", s.Requests.Total)
	}
	if s.Requests.Redacted != 7 {
		t.Errorf("Redacted: got %d, want 7", s.Requests.Redacted)
	}
	if s.Requests.Passthrough != 2 {
		t.Errorf("Passthrough: got %d, want 2", s.Requests.Passthrough)
	}
	if s.Requests.Auth != 1 {
		t.Errorf("Auth: got %d, want 1", s.Requests.Auth)
	}
}

func TestErrorCounters(t *testing.T) {
	m := New()
	m.ErrorsUpstream.Add(3)
	m.ErrorsRedact.Add(2)

	s := m.Snapshot()
	if s.Errors.Upstream != 3 {
		t.Errorf("Upstream errors: got %d, want 3", s.Errors.Upstream)
	}
	if s.Errors.Redact != 2 {
		t.Errorf("Redact errors: got %d, want 2", s.Errors.Redact)
	}
}

func TestPIITokenCounters(t *testing.T) {
	m := New()
	m.TokensReplaced.Add(50)
	m.TokensDetokenized.Add(45)

	s := m.Snapshot()
	if s.Tokens.Replaced != 50 {
		t.Errorf("TokensReplaced: got %d, want 50", s.Tokens.Replaced)
	}
	if s.Tokens.Detokenized != 45 {
		t.Errorf("TokensDetokenized: got %d, want 45", s.Tokens.Detokenized)
	}
}

func TestRecordRedactLatency_SingleSample(t *testing.T) {
	m := New()
	m.RecordRedactLatency(100 * time.Millisecond)

	s := m.Snapshot()
	if s.Latency.RedactionMs.Count != 1 {
		t.Errorf("Count: got %d, want 1", s.Latency.RedactionMs.Count)
	}
	if s.Latency.RedactionMs.MinMs < 90 || s.Latency.RedactionMs.MinMs > 110 {
		t.Errorf("MinMs: got %f, want ~100", s.Latency.RedactionMs.MinMs)
	}
}

func TestRecordUpstreamLatency_MinMaxMean(t *testing.T) {
	m := New()
	m.RecordUpstreamLatency(50 * time.Millisecond)
	m.RecordUpstreamLatency(150 * time.Millisecond)
	m.RecordUpstreamLatency(100 * time.Millisecond)

	s := m.Snapshot()
	ls := s.Latency.UpstreamMs
	if ls.Count != 3 {
		t.Errorf("Count: got %d, want 3", ls.Count)
	}
	if ls.MinMs > 60 {
		t.Errorf("MinMs too high: %f", ls.MinMs)
	}
	if ls.MaxMs < 140 {
		t.Errorf("MaxMs too low: %f", ls.MaxMs)
	}
	if ls.MeanMs < 90 || ls.MeanMs > 110 {
		t.Errorf("MeanMs: got %f, want ~100", ls.MeanMs)
	}
}

func TestSnapshotLatency_EmptyIsZeroValue(t *testing.T) {
	m := New()
	s := m.Snapshot()
	if s.Latency.RedactionMs.Count != 0 {
		t.Errorf("empty redact latency count should be 0")
	}
	if s.Latency.UpstreamMs.Count != 0 {
		t.Errorf("empty upstream latency count should be 0")
	}
}

func TestSnapshot_UptimePositive(t *testing.T) {
	m := New()
	time.Sleep(5 * time.Millisecond)
	s := m.Snapshot()
	if s.UptimeSecs <= 0 {
		t.Errorf("UptimeSecs should be positive, got %f", s.UptimeSecs)
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		input float64
		want  float64
	}{
		{1.236, 1.24},
		{1.234, 1.23},
		{100.0, 100.0},
		{0.0, 0.0},
	}
	for _, c := range cases {
		got := round2(c.input)
		if got != c.want {
			t.Errorf("round2(%f) = %f, want %f", c.input, got, c.want)
		}
	}
}

func TestLatencyStats_Record(t *testing.T) {
	var s latencyStats
	s.record(10)
	s.record(20)
	s.record(15)

	snap := s.snapshot()
	if snap.Count != 3 {
		t.Errorf("Count: got %d, want 3", snap.Count)
	}
	if snap.MinMs != 10 {
		t.Errorf("MinMs: got %f, want 10", snap.MinMs)
	}
	if snap.MaxMs != 20 {
		t.Errorf("MaxMs: got %f, want 20", snap.MaxMs)
	}
	if snap.MeanMs != 15 {
		t.Errorf("MeanMs: got %f, want 15", snap.MeanMs)
	}
}

func TestCacheHitCounters(t *testing.T) {
	m := New()
	m.RecordCacheHit("email")
	m.RecordCacheHit("email")
	m.RecordCacheHit("phone")

	s := m.Snapshot()
	if s.Tokens.CacheHits["email"] != 2 {
		t.Errorf("email hits: got %d, want 2", s.Tokens.CacheHits["email"])
	}
	if s.Tokens.CacheHits["phone"] != 1 {
		t.Errorf("phone hits: got %d, want 1", s.Tokens.CacheHits["phone"])
	}
	if _, present := s.Tokens.CacheHits["ssn"]; present {
		t.Error("ssn should be absent from snapshot when count is 0")
	}
}

func TestCacheMissCounters(t *testing.T) {
	m := New()
	m.RecordCacheMiss("phone")
	m.RecordCacheMiss("phone")
	m.RecordCacheMiss("ipAddress")

	s := m.Snapshot()
	if s.Tokens.CacheMisses["phone"] != 2 {
		t.Errorf("phone misses: got %d, want 2", s.Tokens.CacheMisses["phone"])
	}
	if s.Tokens.CacheMisses["ipAddress"] != 1 {
		t.Errorf("ipAddress misses: got %d, want 1", s.Tokens.CacheMisses["ipAddress"])
	}
}

func TestCacheUnknownTypeIgnored(t *testing.T) {
	m := New()
	// Should not panic or create a new entry for an unrecognized category.
	m.RecordCacheHit("unknownType")
	m.RecordCacheMiss("unknownType")

	s := m.Snapshot()
	if _, present := s.Tokens.CacheHits["unknownType"]; present {
		t.Error("unknown type should not appear in snapshot")
	}
}

func TestBackendDispatchCounters(t *testing.T) {
	m := New()
	m.RemoteBackendDispatches.Add(5)
	m.RemoteBackendErrors.Add(2)
	m.MemoryFallbacks.Add(3)

	s := m.Snapshot()
	if s.Tokens.RemoteBackendDispatches != 5 {
		t.Errorf("RemoteBackendDispatches: got %d, want 5", s.Tokens.RemoteBackendDispatches)
	}
	if s.Tokens.RemoteBackendErrors != 2 {
		t.Errorf("RemoteBackendErrors: got %d, want 2", s.Tokens.RemoteBackendErrors)
	}
	if s.Tokens.MemoryFallbacks != 3 {
		t.Errorf("MemoryFallbacks: got %d, want 3", s.Tokens.MemoryFallbacks)
	}
}

func TestCacheCountersZeroValueOmitted(t *testing.T) {
	m := New()
	s := m.Snapshot()
	if len(s.Tokens.CacheHits) != 0 {
		t.Errorf("CacheHits should be empty map when all zero, got %v", s.Tokens.CacheHits)
	}
	if len(s.Tokens.CacheMisses) != 0 {
		t.Errorf("CacheMisses should be empty map when all zero, got %v", s.Tokens.CacheMisses)
	}
}

func TestLatencyStats_Empty(t *testing.T) {
	var s latencyStats
	snap := s.snapshot()
	if snap.Count != 0 || snap.MinMs != 0 || snap.MaxMs != 0 || snap.MeanMs != 0 {
		t.Errorf("empty stats snapshot should be zero, got %+v", snap)
	}
}
