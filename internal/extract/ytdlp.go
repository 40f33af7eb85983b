package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/hbomb79/Medialink/pkg/logger"
	"github.com/mitchellh/mapstructure"
)

var log = logger.Get("Extract")

type (
	YtDlpConfig struct {
		BinPath   string   `yaml:"ytdlp_path" env:"YTDLP_PATH" env-default:"yt-dlp"`
		ExtraArgs []string `yaml:"ytdlp_args" env:"YTDLP_ARGS" env-separator:" "`
	}

	// YtDlp extracts media information by shelling out to yt-dlp
	// and parsing its JSON dump.
	YtDlp struct {
		config YtDlpConfig
	}

	ytdlpFormat struct {
		FormatID       string   `mapstructure:"format_id"`
		URL            string   `mapstructure:"url"`
		Ext            string   `mapstructure:"ext"`
		Resolution     string   `mapstructure:"resolution"`
		FormatNote     string   `mapstructure:"format_note"`
		Width          *int     `mapstructure:"width"`
		Height         *int     `mapstructure:"height"`
		FPS            *float64 `mapstructure:"fps"`
		Filesize       *int64   `mapstructure:"filesize"`
		FilesizeApprox *int64   `mapstructure:"filesize_approx"`
		TBR            *float64 `mapstructure:"tbr"`
		VCodec         string   `mapstructure:"vcodec"`
		ACodec         string   `mapstructure:"acodec"`
	}

	ytdlpInfo struct {
		Direct ytdlpFormat `mapstructure:",squash"`

		ID          string        `mapstructure:"id"`
		Title       string        `mapstructure:"title"`
		Thumbnail   string        `mapstructure:"thumbnail"`
		Uploader    string        `mapstructure:"uploader"`
		Description string        `mapstructure:"description"`
		Extractor   string        `mapstructure:"extractor"`
		WebpageURL  string        `mapstructure:"webpage_url"`
		Duration    *float64      `mapstructure:"duration"`
		ViewCount   *int64        `mapstructure:"view_count"`
		Formats     []ytdlpFormat `mapstructure:"formats"`
	}
)

func NewYtDlp(config YtDlpConfig) *YtDlp {
	if config.BinPath == "" {
		config.BinPath = "yt-dlp"
	}

	return &YtDlp{config: config}
}

func (ytdlp *YtDlp) Name() string { return "yt-dlp" }

// Extract runs yt-dlp against the URL. The subprocess is killed if
// the context is cancelled before it completes.
func (ytdlp *YtDlp) Extract(ctx context.Context, url string) (*RawMedia, error) {
	args := append([]string{"-J", "--no-playlist", "--no-warnings", "--no-progress"}, ytdlp.config.ExtraArgs...)
	args = append(args, "--", url)

	cmd := exec.CommandContext(ctx, ytdlp.config.BinPath, args...)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Emit(logger.VERBOSE, "Running %s for %s\n", ytdlp.config.BinPath, url)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrExtractorMissing, ytdlp.config.BinPath)
		}

		return nil, classifyYtDlpFailure(stderr.String(), err)
	}

	return parseYtDlpOutput(stdout.Bytes())
}

// classifyYtDlpFailure inspects the stderr of a failed yt-dlp invocation
// and maps the reported problem on to one of our sentinel errors where
// possible. The message yt-dlp reported is retained for the user.
func classifyYtDlpFailure(stderr string, runErr error) error {
	message := ""
	for _, line := range strings.Split(stderr, "\n") {
		if after, ok := strings.CutPrefix(strings.TrimSpace(line), "ERROR:"); ok {
			message = strings.TrimSpace(after)
		}
	}
	if message == "" {
		message = strings.TrimSpace(stderr)
	}
	if message == "" {
		return fmt.Errorf("yt-dlp failed: %w", runErr)
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "unsupported url"):
		return fmt.Errorf("%w: %s", ErrUnsupportedSite, message)
	case strings.Contains(lower, "your country"), strings.Contains(lower, "geo restrict"), strings.Contains(lower, "geo-restrict"):
		return fmt.Errorf("%w: %s", ErrGeoRestricted, message)
	case strings.Contains(lower, "sign in"), strings.Contains(lower, "login"), strings.Contains(lower, "log in"):
		return fmt.Errorf("%w: %s", ErrLoginRequired, message)
	case strings.Contains(lower, "private"),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "not available"),
		strings.Contains(lower, "removed"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "404"):
		return fmt.Errorf("%w: %s", ErrUnavailable, message)
	}

	return fmt.Errorf("yt-dlp failed: %s", message)
}

// parseYtDlpOutput decodes the JSON dump produced by 'yt-dlp -J'. The dump
// is loosely typed (numbers may be null, strings, floats), so it is first
// decoded generically and then weakly decoded in to our own structure.
func parseYtDlpOutput(output []byte) (*RawMedia, error) {
	var dump map[string]any
	if err := json.Unmarshal(output, &dump); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	// Playlist-like results nest the media in 'entries'
	if _, hasFormats := dump["formats"]; !hasFormats {
		if entries, ok := dump["entries"].([]any); ok && len(entries) > 0 {
			if first, ok := entries[0].(map[string]any); ok {
				dump = first
			}
		}
	}

	var info ytdlpInfo
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &info,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(dump); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	media := &RawMedia{
		ID:          info.ID,
		Title:       info.Title,
		Thumbnail:   info.Thumbnail,
		Uploader:    info.Uploader,
		Description: info.Description,
		Extractor:   info.Extractor,
		WebpageURL:  info.WebpageURL,
		Duration:    info.Duration,
		ViewCount:   info.ViewCount,
		Streams:     make([]RawStream, 0, len(info.Formats)),
	}

	for _, f := range info.Formats {
		if f.URL == "" {
			continue
		}

		media.Streams = append(media.Streams, f.toStream())
	}

	// Some extractors return a single direct URL rather than a format list
	if len(media.Streams) == 0 && info.Direct.URL != "" {
		direct := info.Direct.toStream()
		if direct.FormatID == "" {
			direct.FormatID = "direct"
		}
		if direct.Ext == "" {
			direct.Ext = "mp4"
		}
		media.Streams = append(media.Streams, direct)
	}

	return media, nil
}

func (f ytdlpFormat) toStream() RawStream {
	size := f.Filesize
	if size == nil {
		size = f.FilesizeApprox
	}

	return RawStream{
		FormatID:    f.FormatID,
		UpstreamURL: f.URL,
		Ext:         f.Ext,
		Resolution:  f.Resolution,
		FormatNote:  f.FormatNote,
		Width:       f.Width,
		Height:      f.Height,
		FPS:         f.FPS,
		Filesize:    size,
		Bitrate:     f.TBR,
		VideoCodec:  f.VCodec,
		AudioCodec:  f.ACodec,
	}
}
