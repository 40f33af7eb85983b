package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Chain tries each of its extractors in turn, returning the first
// successful result. If all extractors fail, the error from the first
// extractor which actually ran is returned as it is typically the most
// descriptive.
type Chain struct {
	extractors []Extractor
}

func NewChain(primary Extractor, fallbacks ...Extractor) *Chain {
	return &Chain{extractors: append([]Extractor{primary}, fallbacks...)}
}

func (chain *Chain) Name() string {
	names := make([]string, len(chain.extractors))
	for i, e := range chain.extractors {
		names[i] = e.Name()
	}

	return strings.Join(names, "+")
}

func (chain *Chain) Extract(ctx context.Context, url string) (*RawMedia, error) {
	var firstErr error
	for _, extractor := range chain.extractors {
		media, err := extractor.Extract(ctx, url)
		if err == nil {
			return media, nil
		}

		// A cancelled or timed out request must not fall through to
		// the next extractor
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		log.Debugf("Extractor %s failed for %s: %v\n", extractor.Name(), url, err)
		if firstErr == nil || errors.Is(firstErr, ErrExtractorMissing) {
			firstErr = err
		}
	}

	if firstErr == nil {
		return nil, fmt.Errorf("%w: no extractors configured", ErrExtractorMissing)
	}

	return nil, firstErr
}
