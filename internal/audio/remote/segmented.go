package remote

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Segment is one entry in a parsed media playlist.
type Segment struct {
	URL       string
	Duration  float64
	ByteStart int64
	ByteLen   int64 // 0 means "whole resource"
}

// PrefetchWindow is a segment count that Segmented does not consult:
// Segmented fetches each segment only once the previous one is
// exhausted and keeps no segments buffered ahead.
const PrefetchWindow = 3

// Segmented reads a sequence of HTTP segments (as parsed from an M3U8/
// SABR manifest) as one continuous byte stream, seamlessly across
// segment boundaries.
type Segmented struct {
	client   *resty.Client
	segments []Segment

	idx      int
	curBody  io.ReadCloser
	contentType string
	pos      int64
	byteIndex []int64 // cumulative start offset of each segment
}

// ParseMediaPlaylist parses an M3U8 media playlist body into an ordered
// Segment list relative to baseURL.
func ParseMediaPlaylist(body io.Reader, baseURL string) ([]Segment, error) {
	scanner := bufio.NewScanner(body)
	var segs []Segment
	var pendingDuration float64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			fieldsStr := strings.TrimPrefix(line, "#EXTINF:")
			fieldsStr = strings.TrimSuffix(fieldsStr, ",")
			parts := strings.SplitN(fieldsStr, ",", 2)
			if d, err := strconv.ParseFloat(parts[0], 64); err == nil {
				pendingDuration = d
			}
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		default:
			segs = append(segs, Segment{URL: resolveURL(baseURL, line), Duration: pendingDuration})
			pendingDuration = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("remote: parse media playlist: %w", err)
	}
	return segs, nil
}

// SelectAudioVariant picks the audio-only variant from a master
// playlist's variant list, or the one flagged default, falling back to
// the first entry.
func SelectAudioVariant(variants []MasterVariant) (MasterVariant, bool) {
	for _, v := range variants {
		if v.AudioOnly {
			return v, true
		}
	}
	for _, v := range variants {
		if v.Default {
			return v, true
		}
	}
	if len(variants) > 0 {
		return variants[0], true
	}
	return MasterVariant{}, false
}

// MasterVariant is one #EXT-X-STREAM-INF/#EXT-X-MEDIA entry from a
// master playlist.
type MasterVariant struct {
	URL       string
	AudioOnly bool
	Default   bool
}

func resolveURL(base, rel string) string {
	if strings.HasPrefix(rel, "http://") || strings.HasPrefix(rel, "https://") {
		return rel
	}
	idx := strings.LastIndex(base, "/")
	if idx < 0 {
		return rel
	}
	return base[:idx+1] + rel
}

// ParseMasterPlaylist parses an M3U8 master playlist's #EXT-X-STREAM-INF
// entries into a MasterVariant list relative to baseURL. AUDIO
// renditions (#EXT-X-MEDIA) are not distinguished from video variants
// here; SelectAudioVariant's Default fallback covers audio-only
// streams that only advertise themselves as the default variant.
func ParseMasterPlaylist(body io.Reader, baseURL string) ([]MasterVariant, error) {
	scanner := bufio.NewScanner(body)
	var variants []MasterVariant
	pendingAudioOnly := false
	pendingDefault := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs := strings.TrimPrefix(line, "#EXT-X-STREAM-INF:")
			pendingAudioOnly = !strings.Contains(attrs, "RESOLUTION=")
			pendingDefault = strings.Contains(attrs, "DEFAULT=YES")
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		default:
			variants = append(variants, MasterVariant{
				URL:       resolveURL(baseURL, line),
				AudioOnly: pendingAudioOnly,
				Default:   pendingDefault,
			})
			pendingAudioOnly, pendingDefault = false, false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("remote: parse master playlist: %w", err)
	}
	return variants, nil
}

// NewSegmentedFromURL fetches playlistURL, follows it one level if it is
// a master playlist (picking the audio variant via SelectAudioVariant),
// parses the resulting media playlist, and returns a Segmented reader
// over its segments — the HLS counterpart to NewPlain for sources (live
// streams, some YouTube formats) that only serve audio as a segmented
// manifest rather than one seekable file.
func NewSegmentedFromURL(ctx context.Context, client *resty.Client, playlistURL, contentType string) (*Segmented, error) {
	if client == nil {
		client = resty.New()
	}

	body, err := fetchPlaylist(ctx, client, playlistURL)
	if err != nil {
		return nil, err
	}

	if strings.Contains(body, "#EXT-X-STREAM-INF:") {
		variants, err := ParseMasterPlaylist(strings.NewReader(body), playlistURL)
		if err != nil {
			return nil, err
		}
		variant, ok := SelectAudioVariant(variants)
		if !ok {
			return nil, fmt.Errorf("remote: master playlist %s has no usable variant", playlistURL)
		}
		body, err = fetchPlaylist(ctx, client, variant.URL)
		if err != nil {
			return nil, err
		}
		playlistURL = variant.URL
	}

	segs, err := ParseMediaPlaylist(strings.NewReader(body), playlistURL)
	if err != nil {
		return nil, err
	}
	return NewSegmented(client, segs, contentType), nil
}

func fetchPlaylist(ctx context.Context, client *resty.Client, url string) (string, error) {
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("remote: fetch playlist %s: %w", url, err)
	}
	if resp.StatusCode() >= 400 {
		return "", fmt.Errorf("remote: playlist %s returned status %d", url, resp.StatusCode())
	}
	return resp.String(), nil
}

// NewSegmented builds a Segmented reader over an already-parsed segment
// list.
func NewSegmented(client *resty.Client, segs []Segment, contentType string) *Segmented {
	if client == nil {
		client = resty.New()
	}
	byteIndex := make([]int64, len(segs)+1)
	// Segment byte lengths are unknown ahead of fetch for most HLS
	// sources; byteIndex stays zeroed, since nothing fills it in as
	// segments are read.
	return &Segmented{client: client, segments: segs, contentType: contentType, byteIndex: byteIndex}
}

func (s *Segmented) Len() int64 {
	if n := len(s.byteIndex); n > 0 && s.byteIndex[n-1] > 0 {
		return s.byteIndex[n-1]
	}
	return -1 // unknown: byteIndex is never filled, so this is always the result
}

func (s *Segmented) ContentType() string { return s.contentType }

func (s *Segmented) Read(buf []byte) (int, error) {
	for {
		if s.curBody == nil {
			if s.idx >= len(s.segments) {
				return 0, io.EOF
			}
			if err := s.openSegment(s.idx); err != nil {
				return 0, err
			}
		}
		n, err := s.curBody.Read(buf)
		s.pos += int64(n)
		if err == io.EOF {
			s.curBody.Close()
			s.curBody = nil
			s.idx++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *Segmented) openSegment(idx int) error {
	resp, err := s.client.R().SetDoNotParseResponse(true).Get(s.segments[idx].URL)
	if err != nil {
		return fmt.Errorf("remote: fetch segment %d: %w", idx, err)
	}
	s.curBody = resp.RawBody()
	return nil
}

// Seek only supports rewinding to the start of the stream (offset 0
// from io.SeekStart); any other offset or whence returns an error,
// since HLS audio segments are opened and decoded sequentially.
func (s *Segmented) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart || offset != 0 {
		return 0, fmt.Errorf("remote: segmented reader only supports seeking to 0")
	}
	if s.curBody != nil {
		s.curBody.Close()
		s.curBody = nil
	}
	s.idx = 0
	s.pos = 0
	return 0, nil
}

func (s *Segmented) Close() error {
	if s.curBody != nil {
		return s.curBody.Close()
	}
	return nil
}

var _ Reader = (*Segmented)(nil)
