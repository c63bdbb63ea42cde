package hls

import (
	"bytes"
	"net/url"
)

// newByteReader wraps a fetched playlist body for m3u8's io.Reader-based
// decoders.
func newByteReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}

// resolveRelative resolves a playlist-relative URI (media playlist,
// segment, EXT-X-MAP, EXT-X-KEY) against the playlist that referenced
// it, mirroring the teacher's dash.resolveURL for the HLS side.
func resolveRelative(baseURL, ref string) string {
	if ref == "" {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}
