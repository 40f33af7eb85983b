package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hbomb79/Medialink/internal/api"
	"github.com/hbomb79/Medialink/internal/extract"
	"github.com/hbomb79/Medialink/internal/resolve"
	"github.com/hbomb79/Medialink/internal/secret"
	"github.com/hbomb79/Medialink/internal/token"
	"github.com/hbomb79/Medialink/pkg/logger"
)

var log = logger.Get("Core")

const Version = "1.0.0"

type (
	RunnableService interface {
		Run(context.Context) error
	}

	closer interface {
		Close() error
	}

	// medialinkImpl represents the top-level object for the server, and is
	// responsible for constructing the token codec, extractors, orchestrator
	// and REST gateway from the configuration provided.
	medialinkImpl struct {
		config      Config
		restGateway RunnableService
		services    map[string]RunnableService
		closers     []closer
	}
)

// New loads (or generates) the server secret and constructs all of
// Medialink's services. Nothing is started until Run is called.
func New(ctx context.Context, config Config) (*medialinkImpl, error) {
	log.Emit(logger.DEBUG, "Bootstrapping Medialink services using config: %#v\n", redacted(config))

	serverSecret, err := secret.Load(config.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to load server secret: %w", err)
	}

	codec, err := token.NewCodec(serverSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to construct token codec: %w", err)
	}

	medialink := &medialinkImpl{config: config, services: make(map[string]RunnableService)}
	extractor, err := medialink.buildExtractor(ctx, config.Extract)
	if err != nil {
		return nil, err
	}

	orchestrator := resolve.New(config.Resolve, extractor, codec)
	medialink.restGateway = api.NewRestGateway(&config.RestConfig, Version, orchestrator, codec, token.NewValidator(codec))

	return medialink, nil
}

// buildExtractor composes the extraction capability: yt-dlp first, then
// (optionally) the generic page scanner, all behind an optional cache.
func (medialink *medialinkImpl) buildExtractor(ctx context.Context, config ExtractConfig) (extract.Extractor, error) {
	var extractor extract.Extractor = extract.NewYtDlp(config.YtDlp)
	if config.EnableGeneric {
		extractor = extract.NewChain(extractor, extract.NewGeneric(nil))
	}

	switch strings.ToLower(config.Cache.Backend) {
	case "memory":
		cache := extract.NewMemoryCache()
		medialink.services["extract-cache-janitor"] = cache
		extractor = extract.NewCached(extractor, cache, config.Cache.TTL)
	case "redis":
		cache, err := extract.NewRedisCache(ctx, config.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		medialink.closers = append(medialink.closers, cache)
		extractor = extract.NewCached(extractor, cache, config.Cache.TTL)
	}

	log.Emit(logger.INFO, "Using extractor %s (cache: %s)\n", extractor.Name(), config.Cache.Backend)
	return extractor, nil
}

// Run will start all of Medialink's services. This function will not return
// until Medialink is stopped. To stop Medialink, the provided context must
// be cancelled. Errors from which Medialink cannot recover will also cause
// Medialink to stop, and are returned.
func (medialink *medialinkImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	defer medialink.close()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel(fmt.Errorf("%s: %w", label, err))
	}

	wg := &sync.WaitGroup{}
	for label, service := range medialink.services {
		medialink.spawnAsyncService(ctx, wg, service, label, crashHandler)
	}
	medialink.spawnAsyncService(ctx, wg, medialink.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Medialink services spawned!\n")

	wg.Wait()
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly
func (medialink *medialinkImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

func (medialink *medialinkImpl) close() {
	for _, c := range medialink.closers {
		if err := c.Close(); err != nil {
			log.Warnf("Failed to close resource: %v\n", err)
		}
	}
}

// redacted returns a copy of the config which is safe to log.
func redacted(config Config) Config {
	if config.Secret.Value != "" {
		config.Secret.Value = "<redacted>"
	}
	if config.Extract.Cache.RedisURL != "" {
		config.Extract.Cache.RedisURL = "<redacted>"
	}

	return config
}
