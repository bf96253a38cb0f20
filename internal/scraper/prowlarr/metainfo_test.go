package prowlarr

import (
	"bytes"
	"testing"

	"github.com/zeebo/bencode"
)

func encodeInfoDict(t *testing.T, pieceLength uint32, pieces []byte, name string, length int64) []byte {
	t.Helper()
	b, err := bencode.EncodeBytes(map[string]interface{}{
		"piece length": pieceLength,
		"pieces":       string(pieces),
		"name":         name,
		"length":       length,
	})
	if err != nil {
		t.Fatalf("encode info dict: %v", err)
	}
	return b
}

func TestNewInfoSingleFile(t *testing.T) {
	pieces := bytes.Repeat([]byte{0xAB}, 20) // one sha1-sized piece
	infoBytes := encodeInfoDict(t, 16384, pieces, "movie.mkv", 16384)

	info, err := NewInfo(infoBytes, true, true)
	if err != nil {
		t.Fatalf("NewInfo failed: %v", err)
	}
	if info.Name != "movie.mkv" {
		t.Errorf("Name = %q, want %q", info.Name, "movie.mkv")
	}
	if info.Length != 16384 {
		t.Errorf("Length = %d, want 16384", info.Length)
	}
	if info.NumPieces != 1 {
		t.Errorf("NumPieces = %d, want 1", info.NumPieces)
	}
	if len(info.Files) != 1 || info.Files[0].Path != "movie.mkv" {
		t.Errorf("Files = %+v, want a single movie.mkv entry", info.Files)
	}
}

func TestNewInfoRejectsZeroPieceLength(t *testing.T) {
	infoBytes := encodeInfoDict(t, 0, bytes.Repeat([]byte{0xAB}, 20), "movie.mkv", 16384)
	_, err := NewInfo(infoBytes, true, true)
	if err == nil {
		t.Error("expected an error for zero piece length")
	}
}

func TestNewInfoRejectsMisalignedPieceData(t *testing.T) {
	infoBytes := encodeInfoDict(t, 16384, []byte{0x01, 0x02, 0x03}, "movie.mkv", 16384)
	_, err := NewInfo(infoBytes, true, true)
	if err == nil {
		t.Error("expected an error for piece data not a multiple of sha1.Size")
	}
}

func TestIsTrackerSupported(t *testing.T) {
	cases := []struct {
		tracker string
		want    bool
	}{
		{"http://tracker.example.com/announce", true},
		{"https://tracker.example.com/announce", true},
		{"udp://tracker.example.com:80", true},
		{"ftp://tracker.example.com", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isTrackerSupported(c.tracker); got != c.want {
			t.Errorf("isTrackerSupported(%q) = %v, want %v", c.tracker, got, c.want)
		}
	}
}

func TestCleanNameReplacesSlashes(t *testing.T) {
	got := cleanName("path/to/file.mkv")
	if got != "path_to_file.mkv" {
		t.Errorf("cleanName = %q, want %q", got, "path_to_file.mkv")
	}
}

func TestTrimNamePreservesExtension(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "a"
	}
	long += ".mkv"

	got := trimName(long, 255)
	if len(got) > 255 {
		t.Errorf("trimName result length %d exceeds max 255", len(got))
	}
	if got[len(got)-4:] != ".mkv" {
		t.Errorf("trimName result %q does not preserve the .mkv extension", got)
	}
}

func TestTrimNameNoOpUnderLimit(t *testing.T) {
	short := "movie.mkv"
	if got := trimName(short, 255); got != short {
		t.Errorf("trimName(%q) = %q, want unchanged", short, got)
	}
}
