package prowlarr

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var b32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Magnet is a minimal magnet-URI representation: just enough to round-trip
// an infohash and display name, which is all resolveInfoHash needs. This file
// did not survive the retrieval pack alongside prowlarr.go/metainfo.go (which
// reference it) and is authored from scratch to the standard BEP 0009
// magnet-URI shape (`magnet:?xt=urn:btih:<hash>&dn=<name>&tr=<tracker>...`).
type Magnet struct {
	Name     string
	InfoHash [20]byte
	Trackers [][]string
}

// InfoHashStr renders the 40-hex infohash.
func (m *Magnet) InfoHashStr() string {
	return hex.EncodeToString(m.InfoHash[:])
}

// String renders m as a magnet: URI.
func (m *Magnet) String() string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(m.InfoHashStr())
	if m.Name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(m.Name))
	}
	for _, tier := range m.Trackers {
		for _, tr := range tier {
			b.WriteString("&tr=")
			b.WriteString(url.QueryEscape(tr))
		}
	}
	return b.String()
}

// ParseMagnetUri parses a magnet: URI into a Magnet, extracting the infohash
// from its xt=urn:btih: parameter (hex or base32 encoded, per BEP 0009).
func ParseMagnetUri(raw string) (*Magnet, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse magnet uri: %w", err)
	}
	if u.Scheme != "magnet" {
		return nil, fmt.Errorf("not a magnet uri: %s", raw)
	}

	q := u.Query()
	m := &Magnet{Name: q.Get("dn")}

	var hashHex string
	for _, xt := range q["xt"] {
		const prefix = "urn:btih:"
		if strings.HasPrefix(xt, prefix) {
			hashHex = xt[len(prefix):]
			break
		}
	}
	if hashHex == "" {
		return nil, errors.New("magnet uri missing xt=urn:btih:")
	}

	decoded, err := decodeInfoHash(hashHex)
	if err != nil {
		return nil, err
	}
	m.InfoHash = decoded

	if trackers := q["tr"]; len(trackers) > 0 {
		m.Trackers = [][]string{trackers}
	}

	return m, nil
}

func decodeInfoHash(s string) ([20]byte, error) {
	var out [20]byte
	switch len(s) {
	case 40:
		b, err := hex.DecodeString(s)
		if err != nil {
			return out, fmt.Errorf("decode hex infohash: %w", err)
		}
		copy(out[:], b)
		return out, nil
	case 32:
		b, err := base32Decode(s)
		if err != nil {
			return out, fmt.Errorf("decode base32 infohash: %w", err)
		}
		copy(out[:], b)
		return out, nil
	default:
		return out, fmt.Errorf("unexpected infohash length %d", len(s))
	}
}

func base32Decode(s string) ([]byte, error) {
	enc := strings.ToUpper(s)
	return b32Encoding.DecodeString(enc)
}
