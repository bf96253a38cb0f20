package httpclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		statusCode int
		want       Outcome
	}{
		{"timeout", fakeTimeoutErr{}, 0, OutcomeTimeout},
		{"connection error", errors.New("connection refused"), 0, OutcomeConnectionError},
		{"non-2xx", nil, 503, OutcomeStatusNon2xx},
		{"success", nil, 200, OutcomeSuccess},
		{"context canceled not a net.Error", context.Canceled, 0, OutcomeConnectionError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ClassifyError(c.err, c.statusCode)
			if got != c.want {
				t.Errorf("ClassifyError(%v, %d) = %v, want %v", c.err, c.statusCode, got, c.want)
			}
		})
	}
}

func TestRecordOutcomeSwitchesToProxyAtThreshold(t *testing.T) {
	c := newClient("test", Options{ErrorStreakThreshold: 3, ProxyURL: "http://proxy.example.com:8080"}, nil)

	for i := 0; i < 2; i++ {
		c.RecordOutcome(OutcomeConnectionError)
	}
	c.mu.RLock()
	usingProxy := c.usingProxy
	c.mu.RUnlock()
	if usingProxy {
		t.Fatal("should not yet be using the proxy before the streak threshold")
	}

	c.RecordOutcome(OutcomeConnectionError)
	c.mu.RLock()
	usingProxy = c.usingProxy
	c.mu.RUnlock()
	if !usingProxy {
		t.Error("expected proxy routing after reaching the error streak threshold")
	}
	if c.ErrorStreak() != 3 {
		t.Errorf("ErrorStreak() = %d, want 3", c.ErrorStreak())
	}
}

func TestRecordOutcomeSuccessResetsStreak(t *testing.T) {
	c := newClient("test", Options{ErrorStreakThreshold: 3}, nil)

	c.RecordOutcome(OutcomeConnectionError)
	c.RecordOutcome(OutcomeConnectionError)
	c.RecordOutcome(OutcomeSuccess)

	if c.ErrorStreak() != 0 {
		t.Errorf("ErrorStreak() = %d, want 0 after a success", c.ErrorStreak())
	}
}

func TestRestRebuildsTransportPastMaxAge(t *testing.T) {
	c := newClient("test", Options{MaxAge: 10 * time.Millisecond}, nil)
	first := c.Rest()

	time.Sleep(20 * time.Millisecond)

	second := c.Rest()
	if first == second {
		t.Error("expected Rest() to rebuild the transport once MaxAge has elapsed")
	}
}

func TestRegistryGetReturnsSameClientForSameName(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Get("RealDebrid", Options{})
	b := r.Get("realdebrid", Options{})
	if a != b {
		t.Error("expected Get to be case-insensitive and return the cached client")
	}
}

func TestRegistryGetDistinctClientsForDistinctNames(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Get("realdebrid", Options{})
	b := r.Get("prowlarr", Options{})
	if a == b {
		t.Error("expected distinct upstream names to get distinct clients")
	}
}
