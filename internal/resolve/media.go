package resolve

import "time"

type (
	// FormatDescriptor describes a single downloadable format of a
	// resolved media item. The upstream URL is retained for internal use
	// only; clients reach it exclusively through the DownloadURL.
	FormatDescriptor struct {
		FormatID      string    `json:"format_id"`
		Ext           string    `json:"ext"`
		Quality       string    `json:"quality"`
		Resolution    string    `json:"resolution"`
		Height        *int      `json:"height"`
		FPS           *float64  `json:"fps"`
		Filesize      *int64    `json:"filesize"`
		VideoCodec    string    `json:"video_codec"`
		AudioCodec    string    `json:"audio_codec"`
		DownloadToken string    `json:"download_token"`
		DownloadURL   string    `json:"download_url"`
		ExpiresAt     time.Time `json:"expires_at"`

		UpstreamURL string `json:"-"`
	}

	// MediaInfo is the result of a resolution. It is never mutated
	// once returned.
	MediaInfo struct {
		ID          string             `json:"id"`
		Title       string             `json:"title"`
		Thumbnail   string             `json:"thumbnail"`
		Duration    *float64           `json:"duration"`
		Uploader    string             `json:"uploader"`
		ViewCount   *int64             `json:"view_count"`
		Description string             `json:"description"`
		Extractor   string             `json:"extractor"`
		WebpageURL  string             `json:"webpage_url"`
		ResolvedAt  time.Time          `json:"resolved_at"`
		Formats     []FormatDescriptor `json:"formats,omitempty"`
	}

	// Preferences narrow down the formats returned by a resolution. The
	// zero value returns every format.
	Preferences struct {
		// Format is a container extension such as 'mp4' or 'webm'. The
		// special value 'mp3' selects audio-only formats.
		Format string `json:"format" query:"format"`

		// Quality is 'best', 'worst', 'audio', 'video' or a target
		// height such as '720p'.
		Quality string `json:"quality" query:"quality"`
	}
)
