// Package playlist turns M3U8 media-playlist text into an ordered list of
// absolute segment URLs. Tags are not interpreted; a media playlist is a
// list of URI lines and everything else is a comment.
package playlist

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrEmptyPlaylist = errors.New("empty playlist: no segment lines found")

	// Variant URIs in a master playlist are not media segments. Refusing
	// them here beats handing ffmpeg a concatenation of child playlists.
	ErrMasterPlaylist = errors.New("master playlist: contains variant streams, not media segments")
)

// Segment is one media chunk reference. Ordinals are dense, start at zero
// and follow manifest encounter order; they are the sole ordering key.
type Segment struct {
	Ordinal int
	URL     string
}

// Parse resolves every non-tag line of body against base. Ordinals are
// assigned in encounter order. Parsing the same input twice yields the
// same list.
func Parse(body string, base *url.URL) ([]Segment, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	var segments []Segment
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
				return nil, ErrMasterPlaylist
			}
			continue
		}

		ref, err := url.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid segment reference %q: %w", i+1, line, err)
		}

		abs := base.ResolveReference(ref)
		if !abs.IsAbs() || abs.Host == "" {
			return nil, fmt.Errorf("line %d: cannot resolve %q to an absolute URL", i+1, line)
		}

		segments = append(segments, Segment{Ordinal: len(segments), URL: abs.String()})
	}

	if len(segments) == 0 {
		return nil, ErrEmptyPlaylist
	}

	return segments, nil
}
