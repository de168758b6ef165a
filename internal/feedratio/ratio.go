package feedratio

import (
	"context"
	"sync"

	"feedbot/internal/feeding"
	logx "feedbot/pkg/logx"
)

// SettingKey is where the active ratio lives in the settings table.
const SettingKey = "feed_ratio"

type Settings interface {
	GetSetting(ctx context.Context, key string, dst any) (bool, error)
	PutSetting(ctx context.Context, key string, v any) error
}

type Authorizer interface {
	IsAdmin(userID int64) bool
}

// RatioStore persists the feed ratio. The configured default applies until
// an admin stores one. Writes are last-write-wins.
type RatioStore struct {
	settings Settings
	auth     Authorizer
	log      logx.Logger

	mu  sync.RWMutex
	def feeding.FeedRatio
}

func NewRatioStore(settings Settings, auth Authorizer, def feeding.FeedRatio, log logx.Logger) *RatioStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RatioStore{settings: settings, auth: auth, def: def, log: log}
}

// SetDefault replaces the fallback used while no ratio is stored.
func (s *RatioStore) SetDefault(r feeding.FeedRatio) {
	s.mu.Lock()
	s.def = r
	s.mu.Unlock()
}

func (s *RatioStore) Get(ctx context.Context) (feeding.FeedRatio, error) {
	var r feeding.FeedRatio
	ok, err := s.settings.GetSetting(ctx, SettingKey, &r)
	if err != nil {
		return feeding.FeedRatio{}, feeding.Persistence("get feed ratio", err)
	}
	if !ok {
		s.mu.RLock()
		r = s.def
		s.mu.RUnlock()
	}
	return r, nil
}

func (s *RatioStore) Set(ctx context.Context, actorID int64, r feeding.FeedRatio) (feeding.FeedRatio, error) {
	if s.auth == nil || !s.auth.IsAdmin(actorID) {
		return feeding.FeedRatio{}, feeding.ErrUnauthorized
	}
	if err := r.Validate(); err != nil {
		return feeding.FeedRatio{}, err
	}
	if err := s.settings.PutSetting(ctx, SettingKey, r); err != nil {
		return feeding.FeedRatio{}, feeding.Persistence("set feed ratio", err)
	}
	s.log.Info("feed ratio updated", logx.Int64("actor", actorID), logx.Int("pellets", r.Pellets), logx.Float64("grams", r.Grams))
	return r, nil
}
