package persist

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/domain"
)

// Store is the durable video store finalized artifacts are handed to.
type Store interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (url string, err error)
}

// Catalog keeps track of artifacts that reached the store.
type Catalog interface {
	Record(ctx context.Context, rec domain.Recording) error
	List(ctx context.Context, room domain.RoomID) ([]domain.Recording, error)
}

type UploaderConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	KeepLocal  bool
}

// Uploader ships artifacts in the background with bounded exponential
// backoff. Failures are logged and never reach the room.
type Uploader struct {
	store   Store
	catalog Catalog
	cfg     UploaderConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUploader(store Store, catalog Catalog, cfg UploaderConfig) *Uploader {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Uploader{store: store, catalog: catalog, cfg: cfg, ctx: ctx, cancel: cancel}
}

// Handoff schedules one artifact and returns immediately.
func (u *Uploader) Handoff(a domain.Artifact) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.upload(a)
	}()
}

// Close waits for in-flight uploads; when ctx expires first they are
// cancelled and the local files stay on disk.
func (u *Uploader) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		u.cancel()
		return nil
	case <-ctx.Done():
		u.cancel()
		<-done
		return ctx.Err()
	}
}

func (u *Uploader) upload(a domain.Artifact) {
	logger := log.With().Str("module", "persist.uploader").Str("room", string(a.RoomID)).Str("artifact", a.Name).Logger()

	data, err := os.ReadFile(a.Path)
	if err != nil {
		logger.Error().Err(fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)).Msg("read artifact")
		return
	}

	wait := u.cfg.Backoff
	for attempt := 1; ; attempt++ {
		url, err := u.store.Upload(u.ctx, a.Name, a.ContentType, data)
		if err == nil {
			logger.Info().Int("attempt", attempt).Str("url", url).Msg("artifact uploaded")
			u.record(a, url)
			return
		}
		if attempt >= u.cfg.Attempts {
			logger.Error().Err(err).Int("attempt", attempt).Str("path", a.Path).Msg("upload gave up, artifact kept locally")
			return
		}
		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("upload failed")

		select {
		case <-u.ctx.Done():
			logger.Warn().Str("path", a.Path).Msg("upload cancelled, artifact kept locally")
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > u.cfg.MaxBackoff {
			wait = u.cfg.MaxBackoff
		}
	}
}

func (u *Uploader) record(a domain.Artifact, url string) {
	if u.catalog != nil {
		rec := domain.Recording{
			RoomID:      a.RoomID,
			Name:        a.Name,
			URL:         url,
			ContentType: a.ContentType,
			Size:        a.Size,
			CreatedAt:   a.CreatedAt,
			UploadedAt:  time.Now().UTC(),
		}
		if err := u.catalog.Record(u.ctx, rec); err != nil {
			log.Error().Err(err).Str("module", "persist.uploader").Str("artifact", a.Name).Msg("catalog record failed")
		}
	}
	if !u.cfg.KeepLocal {
		if err := os.Remove(a.Path); err != nil {
			log.Warn().Err(err).Str("module", "persist.uploader").Str("path", a.Path).Msg("remove local artifact")
		}
	}
}
