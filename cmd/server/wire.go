package main

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/adapters/storage"
	"github.com/stemsight/broker/internal/app/persist"
	"github.com/stemsight/broker/internal/config"
)

func newStore(cfg *config.Config) (persist.Store, error) {
	switch cfg.Store.Kind {
	case "supabase":
		store, err := storage.NewSupabaseStore(storage.SupabaseConfig{
			URL:     cfg.Store.SupabaseURL,
			Key:     cfg.Store.SupabaseKey,
			Bucket:  cfg.Store.Bucket,
			Timeout: cfg.Store.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		log.Warn().Str("module", "main").Str("dir", cfg.Store.LocalDir).Msg("using local video store")
		return &storage.LocalStore{Dir: cfg.Store.LocalDir, BaseURL: cfg.Store.PublicBaseURL}, nil
	}
}

func newCatalog(ctx context.Context, cfg *config.Config) (persist.Catalog, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Warn().Str("module", "main").Msg("redis.addr empty, recordings catalog kept in memory")
		return storage.NewMemoryCatalog(), func() {}, nil
	}
	catalog, err := storage.NewRedisCatalog(ctx, storage.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Limit:    cfg.Redis.MaxRecordings,
	})
	if err != nil {
		return nil, nil, err
	}
	return catalog, func() { _ = catalog.Close() }, nil
}

func iceServers(in []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
