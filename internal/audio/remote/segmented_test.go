package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMediaPlaylist_OrdersSegmentsWithDuration(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-VERSION:3
#EXTINF:9.009,
segment0.ts
#EXTINF:9.009,
segment1.ts
#EXT-X-ENDLIST
`
	segs, err := ParseMediaPlaylist(strings.NewReader(playlist), "https://example.com/audio/index.m3u8")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "https://example.com/audio/segment0.ts", segs[0].URL)
	assert.InDelta(t, 9.009, segs[0].Duration, 0.001)
	assert.Equal(t, "https://example.com/audio/segment1.ts", segs[1].URL)
}

func TestSelectAudioVariant_PrefersAudioOnly(t *testing.T) {
	variants := []MasterVariant{
		{URL: "video.m3u8", AudioOnly: false, Default: true},
		{URL: "audio.m3u8", AudioOnly: true},
	}
	v, ok := SelectAudioVariant(variants)
	require.True(t, ok)
	assert.Equal(t, "audio.m3u8", v.URL)
}

func TestSelectAudioVariant_FallsBackToDefault(t *testing.T) {
	variants := []MasterVariant{
		{URL: "low.m3u8"},
		{URL: "high.m3u8", Default: true},
	}
	v, ok := SelectAudioVariant(variants)
	require.True(t, ok)
	assert.Equal(t, "high.m3u8", v.URL)
}

func TestSelectAudioVariant_EmptyList(t *testing.T) {
	_, ok := SelectAudioVariant(nil)
	assert.False(t, ok)
}

func TestParseMasterPlaylist_AudioVariantHasNoResolution(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=640x360
video.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=128000
audio.m3u8
`
	variants, err := ParseMasterPlaylist(strings.NewReader(playlist), "https://example.com/stream/master.m3u8")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.False(t, variants[0].AudioOnly)
	assert.True(t, variants[1].AudioOnly)
	assert.Equal(t, "https://example.com/stream/audio.m3u8", variants[1].URL)
}

func TestNewSegmentedFromURL_FollowsMasterThenStreamsSegments(t *testing.T) {
	const master = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=640x360
video.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=128000
audio.m3u8
`
	const media = `#EXTM3U
#EXTINF:4.0,
seg0.ts
#EXTINF:4.0,
seg1.ts
#EXT-X-ENDLIST
`
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, master)
	})
	mux.HandleFunc("/audio.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, media)
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("AAAA"))
	})
	mux.HandleFunc("/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("BBBB"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seg, err := NewSegmentedFromURL(context.Background(), nil, srv.URL+"/master.m3u8", "video/mp2t")
	require.NoError(t, err)
	defer seg.Close()

	out, err := io.ReadAll(seg)
	require.NoError(t, err)
	assert.Equal(t, "AAAABBBB", string(out))
	assert.Equal(t, "video/mp2t", seg.ContentType())
}
