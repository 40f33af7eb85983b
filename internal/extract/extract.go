// Package extract contains the extraction capabilities Medialink delegates to
// when resolving a media page in to its downloadable streams. Site specific
// knowledge lives entirely in the external tools (e.g. yt-dlp); this package
// only adapts their output in to RawMedia, validating it at the boundary.
package extract

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnsupportedSite  = errors.New("unsupported site")
	ErrUnavailable      = errors.New("content unavailable")
	ErrGeoRestricted    = errors.New("content is not available in this region")
	ErrLoginRequired    = errors.New("content requires authentication")
	ErrExtractorMissing = errors.New("extractor is not installed")
	ErrMalformedOutput  = errors.New("extractor returned malformed data")
)

type (
	// Extractor is implemented by anything capable of turning a media page
	// URL in to a description of the media and its streams.
	Extractor interface {
		Name() string
		Extract(ctx context.Context, url string) (*RawMedia, error)
	}

	// RawStream is a single downloadable stream as reported by an
	// extractor. Optional values are nil when the extractor did
	// not report them.
	RawStream struct {
		FormatID    string   `json:"format_id"`
		UpstreamURL string   `json:"url"`
		Ext         string   `json:"ext"`
		Resolution  string   `json:"resolution"`
		FormatNote  string   `json:"format_note"`
		Width       *int     `json:"width,omitempty"`
		Height      *int     `json:"height,omitempty"`
		FPS         *float64 `json:"fps,omitempty"`
		Filesize    *int64   `json:"filesize,omitempty"`
		Bitrate     *float64 `json:"tbr,omitempty"`
		VideoCodec  string   `json:"vcodec"`
		AudioCodec  string   `json:"acodec"`
	}

	// RawMedia is the media-level result of an extraction.
	RawMedia struct {
		ID          string      `json:"id"`
		Title       string      `json:"title"`
		Thumbnail   string      `json:"thumbnail"`
		Uploader    string      `json:"uploader"`
		Description string      `json:"description"`
		Extractor   string      `json:"extractor"`
		WebpageURL  string      `json:"webpage_url"`
		Duration    *float64    `json:"duration,omitempty"`
		ViewCount   *int64      `json:"view_count,omitempty"`
		Streams     []RawStream `json:"streams"`
	}
)

// HasVideo reports whether the stream carries a video track. Extractors
// report "none" for a missing track, and an empty codec for unknown.
func (stream RawStream) HasVideo() bool {
	return stream.VideoCodec != "" && stream.VideoCodec != "none"
}

// HasAudio reports whether the stream carries an audio track.
func (stream RawStream) HasAudio() bool {
	return stream.AudioCodec != "" && stream.AudioCodec != "none"
}

// IsAudioOnly reports whether the stream is known to carry audio and
// no video.
func (stream RawStream) IsAudioOnly() bool {
	return stream.HasAudio() && stream.VideoCodec == "none"
}

// IsVideoOnly reports whether the stream is known to carry video and
// no audio.
func (stream RawStream) IsVideoOnly() bool {
	return stream.HasVideo() && stream.AudioCodec == "none"
}

// Clone returns a copy of the media which shares no mutable
// state with the original.
func (media *RawMedia) Clone() *RawMedia {
	if media == nil {
		return nil
	}

	out := *media
	out.Streams = make([]RawStream, len(media.Streams))
	copy(out.Streams, media.Streams)

	return &out
}

// SupportedSites returns the hosts known to be supported. yt-dlp supports far
// more than this; the list is informational only and is never used to reject
// a URL.
func SupportedSites() []string {
	return []string{
		"youtube.com", "youtu.be",
		"instagram.com", "twitter.com", "x.com",
		"facebook.com", "fb.watch",
		"tiktok.com",
		"vimeo.com", "dailymotion.com",
		"reddit.com", "twitch.tv",
		"soundcloud.com", "bandcamp.com",
		"pinterest.com", "tumblr.com",
	}
}

// IsKnownSite reports whether the host of the URL belongs to
// one of the SupportedSites.
func IsKnownSite(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, site := range SupportedSites() {
		if host == site || strings.HasSuffix(host, "."+site) {
			return true
		}
	}

	return false
}
