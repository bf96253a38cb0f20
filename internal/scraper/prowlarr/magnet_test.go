package prowlarr

import "testing"

func TestParseMagnetUriHexInfoHash(t *testing.T) {
	raw := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=Show.Name.S01E02.1080p&tr=udp%3A%2F%2Ftracker.example.com%3A80"

	m, err := ParseMagnetUri(raw)
	if err != nil {
		t.Fatalf("ParseMagnetUri failed: %v", err)
	}
	if m.InfoHashStr() != "0123456789abcdef0123456789abcdef01234567" {
		t.Errorf("InfoHashStr() = %q, want the original hex hash", m.InfoHashStr())
	}
	if m.Name != "Show.Name.S01E02.1080p" {
		t.Errorf("Name = %q, want %q", m.Name, "Show.Name.S01E02.1080p")
	}
	if len(m.Trackers) != 1 || len(m.Trackers[0]) != 1 || m.Trackers[0][0] != "udp://tracker.example.com:80" {
		t.Errorf("Trackers = %+v, want one tier with the decoded tracker URL", m.Trackers)
	}
}

func TestParseMagnetUriBase32InfoHash(t *testing.T) {
	// 32 base32 chars decode to 20 bytes.
	raw := "magnet:?xt=urn:btih:CI2FM6A7KU5DMZENW7J4NCHF6YTB74QX&dn=Example"

	m, err := ParseMagnetUri(raw)
	if err != nil {
		t.Fatalf("ParseMagnetUri failed: %v", err)
	}
	if len(m.InfoHashStr()) != 40 {
		t.Errorf("InfoHashStr() length = %d, want 40 (decoded from base32)", len(m.InfoHashStr()))
	}
}

func TestParseMagnetUriRejectsNonMagnetScheme(t *testing.T) {
	_, err := ParseMagnetUri("http://example.com/not-a-magnet")
	if err == nil {
		t.Error("expected an error for a non-magnet scheme")
	}
}

func TestParseMagnetUriRejectsMissingInfoHash(t *testing.T) {
	_, err := ParseMagnetUri("magnet:?dn=NoHashHere")
	if err == nil {
		t.Error("expected an error when xt=urn:btih: is missing")
	}
}

func TestMagnetStringRoundTrips(t *testing.T) {
	raw := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=Example"
	m, err := ParseMagnetUri(raw)
	if err != nil {
		t.Fatalf("ParseMagnetUri failed: %v", err)
	}

	reparsed, err := ParseMagnetUri(m.String())
	if err != nil {
		t.Fatalf("re-parsing String() output failed: %v", err)
	}
	if reparsed.InfoHashStr() != m.InfoHashStr() {
		t.Errorf("round-tripped infohash = %q, want %q", reparsed.InfoHashStr(), m.InfoHashStr())
	}
	if reparsed.Name != m.Name {
		t.Errorf("round-tripped name = %q, want %q", reparsed.Name, m.Name)
	}
}
