// Package breaksync imports school and public holiday feeds as season breaks.
package breaksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"teamcal/internal/cache"
	"teamcal/internal/config"
	"teamcal/internal/ics"
	"teamcal/internal/log"
	"teamcal/internal/model"
	"teamcal/internal/store"
)

// Fetcher downloads one feed body.
type Fetcher interface {
	Fetch(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// FeedResult reports the import of one feed.
type FeedResult struct {
	FeedID    string `json:"feed_id"`
	TenantID  int64  `json:"tenant_id"`
	SeasonID  int64  `json:"season_id"`
	Breaks    int    `json:"breaks"`
	FromCache bool   `json:"from_cache"`
	Error     string `json:"error,omitempty"`
}

// Syncer replaces the imported breaks of each configured season with the
// current content of its feeds. Runs are serialized.
type Syncer struct {
	mu      sync.Mutex
	feeds   []config.HolidayFeed
	fetcher Fetcher
	store   store.Store
	cache   cache.Cache
	loc     *time.Location
}

// New returns a Syncer. cache may be nil.
func New(feeds []config.HolidayFeed, f Fetcher, s store.Store, c cache.Cache, loc *time.Location) *Syncer {
	if loc == nil {
		loc = time.UTC
	}
	return &Syncer{feeds: feeds, fetcher: f, store: s, cache: c, loc: loc}
}

func feedID(f config.HolidayFeed) string {
	if f.ID != "" {
		return f.ID
	}
	if f.Name != "" {
		return f.Name
	}
	return f.URL
}

// Run imports every configured feed. Failing feeds do not stop the others;
// their errors are joined into the returned error.
func (s *Syncer) Run(ctx context.Context) ([]FeedResult, error) {
	return s.run(ctx, func(config.HolidayFeed) bool { return true })
}

// SyncSeason imports only the feeds bound to one season. It is a not-found
// error when the season has no feeds.
func (s *Syncer) SyncSeason(ctx context.Context, tenantID, seasonID int64) ([]FeedResult, error) {
	if _, err := s.store.GetSeason(ctx, tenantID, seasonID); err != nil {
		return nil, err
	}
	results, err := s.run(ctx, func(f config.HolidayFeed) bool {
		return f.TenantID == tenantID && f.SeasonID == seasonID
	})
	if err == nil && len(results) == 0 {
		return results, fmt.Errorf("season %d: %w", seasonID, ErrNoFeeds)
	}
	return results, err
}

// ErrNoFeeds is returned by SyncSeason for seasons without a feed.
var ErrNoFeeds = errors.New("no holiday feeds configured")

func (s *Syncer) run(ctx context.Context, match func(config.HolidayFeed) bool) ([]FeedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]FeedResult, 0, len(s.feeds))
	var errs []error
	for _, f := range s.feeds {
		if !match(f) {
			continue
		}
		res, err := s.syncFeed(ctx, f)
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("feed %s: %w", res.FeedID, err))
			log.Error("holiday feed import failed", err, "feed", res.FeedID, "season_id", f.SeasonID)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (s *Syncer) syncFeed(ctx context.Context, f config.HolidayFeed) (FeedResult, error) {
	id := feedID(f)
	res := FeedResult{FeedID: id, TenantID: f.TenantID, SeasonID: f.SeasonID}

	season, err := s.store.GetSeason(ctx, f.TenantID, f.SeasonID)
	if err != nil {
		return res, err
	}

	src := ics.Source{ID: id, URL: f.URL}
	body, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return res, err
	}
	res.FromCache = body.FromCache

	holidays, err := ics.Parse(src, body.Body, s.loc)
	if err != nil {
		return res, err
	}
	expanded, err := ics.ToBreaks(holidays, ics.ExpandConfig{
		Window:   model.DateRange{Start: season.StartDate, End: season.EndDate},
		Location: s.loc,
	})
	if err != nil {
		return res, err
	}

	if err := s.store.ReplaceBreaks(ctx, f.TenantID, f.SeasonID, id, expanded.Breaks); err != nil {
		return res, err
	}
	res.Breaks = len(expanded.Breaks)

	if s.cache != nil {
		if err := s.cache.InvalidateTenant(ctx, f.TenantID); err != nil {
			log.Warn("calendar cache invalidation failed", "tenant_id", f.TenantID, "err", err)
		}
	}
	log.Info("holiday feed imported", "feed", id, "season_id", f.SeasonID, "breaks", res.Breaks, "from_cache", res.FromCache)
	return res, nil
}

// Schedule runs the import on spec (standard five-field cron) until ctx is
// done. The returned cron is already started.
func (s *Syncer) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(s.loc))
	_, err := c.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := s.Run(rctx); err != nil {
			log.Warn("scheduled holiday import finished with errors", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
