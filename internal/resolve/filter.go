package resolve

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hbomb79/Medialink/internal/extract"
)

const closestQualityCount = 5

// sortStreams orders the streams by descending height, then bitrate,
// then frame rate. Streams which do not report a value sort after
// those that do. The sort is stable.
func sortStreams(streams []extract.RawStream) {
	sort.SliceStable(streams, func(i, j int) bool {
		a, b := streams[i], streams[j]
		if ha, hb := deref(a.Height), deref(b.Height); ha != hb {
			return ha > hb
		}
		if ba, bb := deref(a.Bitrate), deref(b.Bitrate); ba != bb {
			return ba > bb
		}

		return deref(a.FPS) > deref(b.FPS)
	})
}

// applyPreferences filters the sorted streams according to the preferences
// given. Each filter only applies if it leaves at least one stream behind,
// so a resolution never fails purely because of a preference: a quality
// which matches none of the requested format falls back to that format,
// and a format which matches nothing falls back to every stream.
func applyPreferences(streams []extract.RawStream, prefs Preferences) []extract.RawStream {
	filtered := filterFormat(streams, strings.ToLower(strings.TrimSpace(prefs.Format)))
	if len(filtered) == 0 {
		log.Debugf("Format preference %q matched no formats, considering all %d\n", prefs.Format, len(streams))
		filtered = streams
	}

	byQuality := filterQuality(filtered, strings.ToLower(strings.TrimSpace(prefs.Quality)))
	if len(byQuality) == 0 {
		log.Debugf("Quality preference %q matched none of %d formats, ignoring it\n", prefs.Quality, len(filtered))
		return filtered
	}

	return byQuality
}

func filterFormat(streams []extract.RawStream, format string) []extract.RawStream {
	switch format {
	case "", "any":
		return streams
	case "mp3", "audio":
		return keep(streams, isAudioStream)
	default:
		return keep(streams, func(s extract.RawStream) bool { return strings.EqualFold(s.Ext, format) })
	}
}

func filterQuality(streams []extract.RawStream, quality string) []extract.RawStream {
	switch quality {
	case "":
		return streams
	case "best":
		return first(streams)
	case "worst":
		if len(streams) == 0 {
			return streams
		}
		return streams[len(streams)-1:]
	case "audio":
		return keep(streams, isAudioStream)
	case "video":
		return keep(streams, extract.RawStream.IsVideoOnly)
	}

	target, err := strconv.Atoi(strings.TrimSuffix(quality, "p"))
	if err != nil || target <= 0 {
		log.Debugf("Ignoring unrecognised quality preference %q\n", quality)
		return streams
	}

	return closestToHeight(streams, target)
}

// closestToHeight selects the streams whose height is nearest the target,
// retaining the input order amongst those selected.
func closestToHeight(streams []extract.RawStream, target int) []extract.RawStream {
	type candidate struct {
		index    int
		distance int
	}

	candidates := make([]candidate, 0, len(streams))
	for i, s := range streams {
		if s.Height == nil {
			continue
		}
		candidates = append(candidates, candidate{i, int(math.Abs(float64(*s.Height - target)))})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if len(candidates) > closestQualityCount {
		candidates = candidates[:closestQualityCount]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].index < candidates[j].index })

	out := make([]extract.RawStream, len(candidates))
	for i, c := range candidates {
		out[i] = streams[c.index]
	}

	return out
}

// isAudioStream reports whether the stream carries no video. Unlike
// RawStream.IsAudioOnly, the audio codec need not be known.
func isAudioStream(s extract.RawStream) bool {
	return s.VideoCodec == "none" && s.AudioCodec != "none"
}

func keep(streams []extract.RawStream, predicate func(extract.RawStream) bool) []extract.RawStream {
	out := make([]extract.RawStream, 0, len(streams))
	for _, s := range streams {
		if predicate(s) {
			out = append(out, s)
		}
	}

	return out
}

func first(streams []extract.RawStream) []extract.RawStream {
	if len(streams) == 0 {
		return streams
	}

	return streams[:1]
}

func deref[T int | int64 | float64](v *T) T {
	if v == nil {
		return 0
	}

	return *v
}
