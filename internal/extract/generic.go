package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	genericUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	genericMaxBodySize = 5 << 20
)

// directMediaExtensions are path extensions which identify a URL as pointing
// directly at a media file, rather than a page containing media.
var directMediaExtensions = map[string]bool{
	".mp4": true, ".webm": true, ".mov": true, ".mkv": true, ".m4v": true,
	".flv": true, ".avi": true, ".m3u8": true, ".ts": true,
	".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true,
	".wav": true, ".flac": true,
}

var (
	errNoMediaFound = errors.New("no media found on page")

	// ErrForbiddenAddress is returned when the page (or a redirect it
	// issues) resolves to a loopback, private or otherwise non-public
	// address, which the generic extractor refuses to fetch.
	ErrForbiddenAddress = errors.New("refusing to fetch non-public address")
)

// Generic is a site-agnostic extractor which fetches the page and looks for
// media the page declares openly: <video>/<audio> sources and OpenGraph tags.
// URLs which point directly at a media file are returned as-is.
type Generic struct {
	client *http.Client
}

// NewGeneric returns a Generic extractor using the client provided. A nil
// client selects the default, which only dials public addresses.
func NewGeneric(client *http.Client) *Generic {
	if client == nil {
		dialer := &net.Dialer{
			Timeout: 10 * time.Second,
			Control: publicAddressOnly,
		}
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	return &Generic{client: client}
}

func (generic *Generic) Name() string { return "generic" }

func (generic *Generic) Extract(ctx context.Context, rawURL string) (*RawMedia, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedSite, err)
	}

	if ext := strings.ToLower(path.Ext(base.Path)); directMediaExtensions[ext] {
		return directMedia(base, ext), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", genericUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := generic.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, fmt.Errorf("%w: page returned status %d", ErrUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	// The URL may serve media directly despite lacking a recognisable extension
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		if strings.HasPrefix(mediaType, "video/") || strings.HasPrefix(mediaType, "audio/") {
			media := directMedia(base, "")
			media.Streams[0].Ext = extensionForMediaType(mediaType)
			if mediaType[0] == 'a' {
				media.Streams[0].VideoCodec = "none"
			}
			return media, nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, genericMaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	// Relative references are relative to wherever the redirects ended
	page := resp.Request.URL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved := resolveReference(page, href); resolved != "" {
			page, _ = url.Parse(resolved)
		}
	}

	return scanDocument(doc, resp.Request.URL, page)
}

// publicAddressOnly is a dialer control hook rejecting connections to any
// address that is not publicly routable.
func publicAddressOnly(network string, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}

	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}

	return nil
}

// scanDocument searches the parsed HTML document, found at pageURL, for
// embedded media. Relative URLs are resolved against base.
func scanDocument(doc *goquery.Document, pageURL *url.URL, base *url.URL) (*RawMedia, error) {
	media := &RawMedia{
		ID:         shortHash(pageURL.String()),
		Extractor:  "generic",
		WebpageURL: pageURL.String(),
		Streams:    make([]RawStream, 0),
	}

	seen := make(map[string]bool)
	add := func(src string, formatID string, audioOnly bool, resolution string) {
		abs := resolveReference(base, src)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true

		stream := RawStream{
			FormatID:    formatID,
			UpstreamURL: abs,
			Ext:         extensionOf(abs),
			Resolution:  resolution,
		}
		if audioOnly {
			stream.VideoCodec = "none"
		}
		media.Streams = append(media.Streams, stream)
	}

	doc.Find("video").Each(func(_ int, video *goquery.Selection) {
		if src, ok := video.Attr("src"); ok {
			add(src, "video", false, "")
		}
		video.Find("source[src]").Each(func(_ int, source *goquery.Selection) {
			src, _ := source.Attr("src")
			res, _ := source.Attr("res")
			add(src, "video", false, res)
		})
	})
	doc.Find("audio").Each(func(_ int, audio *goquery.Selection) {
		if src, ok := audio.Attr("src"); ok {
			add(src, "audio", true, "")
		}
		audio.Find("source[src]").Each(func(_ int, source *goquery.Selection) {
			src, _ := source.Attr("src")
			add(src, "audio", true, "")
		})
	})
	doc.Find("meta[property]").Each(func(_ int, meta *goquery.Selection) {
		prop, _ := meta.Attr("property")
		content, _ := meta.Attr("content")
		switch prop {
		case "og:video", "og:video:url", "og:video:secure_url":
			add(content, "meta_"+strings.ReplaceAll(prop, ":", "_"), false, "")
		case "og:audio", "og:audio:url", "og:audio:secure_url":
			add(content, "meta_"+strings.ReplaceAll(prop, ":", "_"), true, "")
		}
	})

	if len(media.Streams) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSite, errNoMediaFound)
	}

	media.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if media.Title == "" {
		media.Title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
	}
	if media.Title == "" {
		media.Title = path.Base(pageURL.Path)
	}

	if image, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok && image != "" {
		media.Thumbnail = resolveReference(base, image)
	} else if image, ok := doc.Find("img[src]").First().Attr("src"); ok {
		media.Thumbnail = resolveReference(base, image)
	}

	if description, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		media.Description = description
	}

	return media, nil
}

func directMedia(u *url.URL, ext string) *RawMedia {
	stream := RawStream{
		FormatID:    "direct",
		UpstreamURL: u.String(),
		Ext:         strings.TrimPrefix(ext, "."),
	}
	if stream.Ext == "" {
		stream.Ext = "unknown"
	}

	return &RawMedia{
		ID:         shortHash(u.String()),
		Title:      path.Base(u.Path),
		Extractor:  "generic",
		WebpageURL: u.String(),
		Streams:    []RawStream{stream},
	}
}

func resolveReference(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}

	return resolved.String()
}

func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}

	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), "."); ext != "" {
		return ext
	}

	return "unknown"
}

func extensionForMediaType(mediaType string) string {
	switch mediaType {
	case "audio/mpeg":
		return "mp3"
	case "audio/mp4":
		return "m4a"
	case "application/vnd.apple.mpegurl", "application/x-mpegurl":
		return "m3u8"
	}

	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		return strings.TrimPrefix(sub, "x-")
	}

	return "unknown"
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
