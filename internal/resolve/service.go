// Package resolve turns a user-submitted media page URL in to MediaInfo,
// delegating extraction to an external capability and minting a download
// token for each format so that clients never see the upstream URL directly.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hbomb79/Medialink/internal/extract"
	"github.com/hbomb79/Medialink/pkg/logger"
)

var log = logger.Get("Resolve")

const (
	maxDescriptionLength = 500
	downloadPath         = "/download/"
)

type (
	extractor interface {
		Extract(ctx context.Context, url string) (*extract.RawMedia, error)
	}

	minter interface {
		IssueAt(ref string, issuedAt time.Time, ttl time.Duration) (string, time.Time, error)
	}

	Config struct {
		TokenTTL       time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"30m"`
		ExtractTimeout time.Duration `yaml:"extract_timeout" env:"EXTRACT_TIMEOUT" env-default:"45s"`

		// PublicBaseURL prefixes the download URLs handed to clients. When
		// empty, download URLs are root-relative.
		PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	}

	Option func(*Orchestrator)

	// Orchestrator resolves media URLs. It holds no per-request state and
	// is safe for concurrent use; one slow extraction never blocks another.
	Orchestrator struct {
		config    Config
		extractor extractor
		minter    minter
		now       func() time.Time
	}
)

// WithClock overrides the source of the current time used when
// minting tokens.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(config Config, extractor extractor, minter minter, opts ...Option) *Orchestrator {
	orchestrator := &Orchestrator{
		config:    config,
		extractor: extractor,
		minter:    minter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// Resolve extracts the media found at the URL provided and returns its
// metadata, along with a freshly minted download token for every format
// which satisfies the preferences.
//
// ErrInvalidURL is returned (without consulting the extractor) if the URL
// is not an absolute HTTP(S) URL. Failures of the extractor are returned
// as an *ExtractionFailedError.
func (orchestrator *Orchestrator) Resolve(ctx context.Context, rawURL string, prefs Preferences) (*MediaInfo, error) {
	raw, err := orchestrator.extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	streams := usableStreams(raw.Streams)
	if len(streams) == 0 {
		return nil, &ExtractionFailedError{Reason: ReasonNoFormats}
	}

	sortStreams(streams)
	streams = applyPreferences(streams, prefs)

	issuedAt := orchestrator.now()
	info := newMediaInfo(raw, issuedAt)
	info.Formats = make([]FormatDescriptor, 0, len(streams))
	for _, stream := range streams {
		token, expiresAt, err := orchestrator.minter.IssueAt(stream.UpstreamURL, issuedAt, orchestrator.config.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to issue download token for format %s: %w", stream.FormatID, err)
		}

		info.Formats = append(info.Formats, orchestrator.newFormatDescriptor(stream, token, expiresAt))
	}

	log.Infof("Resolved %s (%s) with %d formats\n", rawURL, info.Extractor, len(info.Formats))
	return info, nil
}

// Info extracts the media found at the URL provided and returns only its
// metadata. No download tokens are minted.
func (orchestrator *Orchestrator) Info(ctx context.Context, rawURL string) (*MediaInfo, error) {
	raw, err := orchestrator.extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	return newMediaInfo(raw, orchestrator.now()), nil
}

// DownloadURL returns the URL a client should use to redeem the token.
func (orchestrator *Orchestrator) DownloadURL(token string) string {
	return strings.TrimSuffix(orchestrator.config.PublicBaseURL, "/") + downloadPath + token
}

// extract validates the URL and runs the extractor against it, bounded by
// the configured timeout. The bound holds even for extractors that do not
// observe their context: such an extraction is abandoned (its eventual
// result discarded) once the deadline passes.
func (orchestrator *Orchestrator) extract(ctx context.Context, rawURL string) (*extract.RawMedia, error) {
	target, err := ParseMediaURL(rawURL)
	if err != nil {
		return nil, err
	}

	var (
		extractCtx context.Context
		cancel     context.CancelFunc
	)
	if orchestrator.config.ExtractTimeout > 0 {
		extractCtx, cancel = context.WithTimeout(ctx, orchestrator.config.ExtractTimeout)
	} else {
		extractCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type extraction struct {
		media *extract.RawMedia
		err   error
	}

	started := time.Now()
	done := make(chan extraction, 1)
	go func() {
		media, err := orchestrator.extractor.Extract(extractCtx, target.String())
		done <- extraction{media, err}
	}()

	var raw *extract.RawMedia
	select {
	case result := <-done:
		raw, err = result.media, result.err
	case <-extractCtx.Done():
		err = extractCtx.Err()
	}

	if err != nil {
		// The caller going away is not an extraction failure
		if ctx.Err() != nil {
			log.Debugf("Extraction of %s abandoned: %v\n", target, ctx.Err())
			return nil, ctx.Err()
		}

		if errors.Is(extractCtx.Err(), context.DeadlineExceeded) {
			log.Warnf("Extraction of %s timed out after %s\n", target, time.Since(started).Round(time.Millisecond))
			return nil, &ExtractionFailedError{Reason: ReasonTimeout, Err: context.DeadlineExceeded}
		}

		log.Infof("Extraction of %s failed: %v\n", target, err)
		return nil, &ExtractionFailedError{Reason: err.Error(), Err: err}
	}

	if raw == nil {
		return nil, &ExtractionFailedError{Reason: ReasonMalformedExtractor, Err: extract.ErrMalformedOutput}
	}

	log.Verbosef("Extracted %s in %s\n", target, time.Since(started).Round(time.Millisecond))
	return raw, nil
}

// ParseMediaURL parses the raw URL, ensuring it is an absolute HTTP(S)
// URL with a host. The returned error wraps ErrInvalidURL.
func ParseMediaURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url is empty", ErrInvalidURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	if !isHTTPURL(parsed) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	return parsed, nil
}

func isHTTPURL(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Hostname() != ""
}

// usableStreams returns a copy of the streams, omitting any which lack
// a fetchable upstream URL.
func usableStreams(streams []extract.RawStream) []extract.RawStream {
	out := make([]extract.RawStream, 0, len(streams))
	for _, stream := range streams {
		if parsed, err := url.Parse(stream.UpstreamURL); err != nil || !isHTTPURL(parsed) {
			log.Debugf("Dropping format %q with unusable upstream URL\n", stream.FormatID)
			continue
		}

		out = append(out, stream)
	}

	return out
}

func newMediaInfo(raw *extract.RawMedia, resolvedAt time.Time) *MediaInfo {
	return &MediaInfo{
		ID:          raw.ID,
		Title:       raw.Title,
		Thumbnail:   raw.Thumbnail,
		Duration:    raw.Duration,
		Uploader:    raw.Uploader,
		ViewCount:   raw.ViewCount,
		Description: truncate(raw.Description, maxDescriptionLength),
		Extractor:   raw.Extractor,
		WebpageURL:  raw.WebpageURL,
		ResolvedAt:  resolvedAt.UTC(),
	}
}

func (orchestrator *Orchestrator) newFormatDescriptor(stream extract.RawStream, token string, expiresAt time.Time) FormatDescriptor {
	return FormatDescriptor{
		FormatID:      stream.FormatID,
		Ext:           stream.Ext,
		Quality:       qualityLabel(stream),
		Resolution:    resolutionLabel(stream),
		Height:        stream.Height,
		FPS:           stream.FPS,
		Filesize:      stream.Filesize,
		VideoCodec:    stream.VideoCodec,
		AudioCodec:    stream.AudioCodec,
		DownloadToken: token,
		DownloadURL:   orchestrator.DownloadURL(token),
		ExpiresAt:     expiresAt.UTC(),
		UpstreamURL:   stream.UpstreamURL,
	}
}

func qualityLabel(stream extract.RawStream) string {
	switch {
	case stream.Height != nil && *stream.Height > 0:
		return fmt.Sprintf("%dp", *stream.Height)
	case stream.Bitrate != nil && *stream.Bitrate > 0:
		return fmt.Sprintf("%.0fk", *stream.Bitrate)
	case stream.FormatNote != "":
		return stream.FormatNote
	default:
		return "unknown"
	}
}

func resolutionLabel(stream extract.RawStream) string {
	switch {
	case stream.Resolution != "":
		return stream.Resolution
	case stream.Width != nil && stream.Height != nil:
		return fmt.Sprintf("%dx%d", *stream.Width, *stream.Height)
	case isAudioStream(stream):
		return "audio only"
	default:
		return "unknown"
	}
}

// truncate shortens the string to at most limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}
