package extract_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/hbomb79/Medialink/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeYtDlp writes a shell script to a temporary directory which
// stands in for the real yt-dlp binary.
func fakeYtDlp(t *testing.T, script string) string {
	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp scripts require a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestYtDlp_Extract(t *testing.T) {
	bin := fakeYtDlp(t, `cat <<'EOF'
{"id": "abc", "title": "Fake", "extractor": "fake", "formats": [
	{"format_id": "18", "ext": "mp4", "url": "https://cdn.example.com/18.mp4", "height": 360, "vcodec": "avc1", "acodec": "mp4a"},
	{"format_id": "22", "ext": "mp4", "url": "https://cdn.example.com/22.mp4", "height": 720, "vcodec": "avc1", "acodec": "mp4a"}
]}
EOF
`)

	media, err := extract.NewYtDlp(extract.YtDlpConfig{BinPath: bin}).Extract(context.Background(), "https://example.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, "Fake", media.Title)
	require.Len(t, media.Streams, 2)
	assert.Equal(t, "https://cdn.example.com/22.mp4", media.Streams[1].UpstreamURL)
}

func TestYtDlp_ReceivesURLAfterSeparator(t *testing.T) {
	bin := fakeYtDlp(t, `last=""
for arg in "$@"; do last="$arg"; done
printf '{"id": "x", "title": "%s", "url": "https://cdn.example.com/x.mp4"}' "$last"
`)

	media, err := extract.NewYtDlp(extract.YtDlpConfig{BinPath: bin}).Extract(context.Background(), "https://example.com/-v")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/-v", media.Title)
}

func TestYtDlp_Failure(t *testing.T) {
	bin := fakeYtDlp(t, `echo "ERROR: Unsupported URL: https://example.com/" >&2
exit 1
`)

	_, err := extract.NewYtDlp(extract.YtDlpConfig{BinPath: bin}).Extract(context.Background(), "https://example.com/")
	assert.ErrorIs(t, err, extract.ErrUnsupportedSite)
	assert.ErrorContains(t, err, "Unsupported URL")
}

func TestYtDlp_Missing(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "definitely-not-installed")

	_, err := extract.NewYtDlp(extract.YtDlpConfig{BinPath: bin}).Extract(context.Background(), "https://example.com/")
	assert.ErrorIs(t, err, extract.ErrExtractorMissing)
}

func TestYtDlp_HonoursContext(t *testing.T) {
	bin := fakeYtDlp(t, "exec sleep 10\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := extract.NewYtDlp(extract.YtDlpConfig{BinPath: bin}).Extract(ctx, "https://example.com/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second, "the subprocess should have been killed")
}
