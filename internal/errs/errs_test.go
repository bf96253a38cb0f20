package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorUnwrapAndMessage(t *testing.T) {
	cause := errors.New("connection refused")
	e := New(KindTransientUpstream, "prowlarr.Search", cause)

	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	want := "prowlarr.Search: transient_upstream: connection refused"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	e := New(KindCancellation, "facade.Resolve", nil)
	want := "facade.Resolve: cancellation"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	e := New(KindUpstreamForbidden, "realdebrid.BatchCheckHashes", errors.New("403"))
	wrapped := fmt.Errorf("batch check: %w", e)

	if !Is(wrapped, KindUpstreamForbidden) {
		t.Error("expected Is to see through fmt.Errorf wrapping via errors.As")
	}
	if Is(wrapped, KindFatal) {
		t.Error("expected Is to reject the wrong Kind")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	plain := errors.New("not ours")
	if Is(plain, KindTransientUpstream) {
		t.Error("expected Is to return false for an error outside the taxonomy")
	}
}

func TestTransient(t *testing.T) {
	if !Transient(New(KindTransientUpstream, "op", nil)) {
		t.Error("expected KindTransientUpstream to be Transient")
	}
	if Transient(New(KindFatal, "op", nil)) {
		t.Error("expected KindFatal to not be Transient")
	}
}

func TestDegradableMatchesSevenKindTaxonomy(t *testing.T) {
	cases := []struct {
		kind       Kind
		degradable bool
	}{
		{KindTransientUpstream, true},
		{KindUpstreamForbidden, true},
		{KindCacheMiss, true},
		{KindDriverContractViolation, true},
		{KindPersistentCacheFailure, true},
		{KindCancellation, false},
		{KindFatal, false},
	}
	for _, c := range cases {
		got := Degradable(New(c.kind, "op", nil))
		if got != c.degradable {
			t.Errorf("Degradable(%s) = %v, want %v", c.kind, got, c.degradable)
		}
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 999
	if k.String() != "unknown" {
		t.Errorf("String() = %q, want %q", k.String(), "unknown")
	}
}
