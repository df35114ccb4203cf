package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, admissionsTotal)
	require.NotNil(t, leaseHeld)

	before := testutil.ToFloat64(admissionsTotal.WithLabelValues(AdmissionBusy))
	ObserveAdmission(AdmissionBusy)
	require.Equal(t, before+1, testutil.ToFloat64(admissionsTotal.WithLabelValues(AdmissionBusy)))
}

func TestGauges(t *testing.T) {
	Init()

	SetLeaseHeld(true)
	require.Equal(t, 1.0, testutil.ToFloat64(leaseHeld))
	SetLeaseHeld(false)
	require.Equal(t, 0.0, testutil.ToFloat64(leaseHeld))

	ObserveMemory(512, 0.25)
	require.Equal(t, 512.0, testutil.ToFloat64(memoryUsedBytes))
	require.Equal(t, 0.25, testutil.ToFloat64(memoryUsageRatio))
}

func TestObserveCaptureUsesHost(t *testing.T) {
	Init()

	ObserveCapture("https://Shop.Example.com/items?id=1", "viewport", "success")
	require.GreaterOrEqual(t,
		testutil.ToFloat64(capturesTotal.WithLabelValues("shop.example.com", "viewport", "success")), 1.0)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
