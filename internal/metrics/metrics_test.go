package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if archiverCandidatesTotal == nil || archiverFetchTotal == nil ||
		archiverScreenshotsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(archiverCandidatesTotal.WithLabelValues("duplicate"))
	ObserveCandidates("duplicate", 2)
	ObserveCandidates("duplicate", 0)
	if got := testutil.ToFloat64(archiverCandidatesTotal.WithLabelValues("duplicate")) - before; got != 2 {
		t.Errorf("expected duplicate candidates to grow by 2, got %f", got)
	}

	ObserveFetch("observers.test", "success", 128, 10*time.Millisecond)
	if got := testutil.ToFloat64(archiverFetchBytesTotal.WithLabelValues("observers.test")); got != 128 {
		t.Errorf("expected 128 bytes recorded, got %f", got)
	}

	beforeFailed := testutil.ToFloat64(archiverScreenshotsTotal.WithLabelValues("failed"))
	ObserveScreenshot("failed")
	if got := testutil.ToFloat64(archiverScreenshotsTotal.WithLabelValues("failed")) - beforeFailed; got != 1 {
		t.Errorf("expected failed screenshots to grow by 1, got %f", got)
	}

	SetLastAssignedID(41)
	if got := testutil.ToFloat64(archiverLastAssignedID); got != 41 {
		t.Errorf("expected last assigned id gauge 41, got %f", got)
	}

	ObserveRateLimitDelay(50 * time.Millisecond)
	if got := testutil.CollectAndCount(archiverRateLimitDelay); got != 1 {
		t.Errorf("expected one rate limit histogram, got %d", got)
	}

	IncActiveCaptures()
	DecActiveCaptures()
	if got := testutil.ToFloat64(archiverActiveCaptures); got != 0 {
		t.Errorf("expected no active captures, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
