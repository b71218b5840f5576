// Package profiles resolves display profiles for session participants.
package profiles

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aura-remote/backend/internal/models"
)

// Source is the backing profile store.
type Source interface {
	GetByUserID(ctx context.Context, userID string) (models.Profile, error)
}

type cached struct {
	profile models.Profile
	expires time.Time
}

// Lookup caches profiles for a TTL and collapses concurrent lookups of the same user.
// It never fails: any miss or error yields a placeholder.
type Lookup struct {
	source  Source
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cached
	group singleflight.Group
}

// NewLookup creates a lookup over source. A nil source always yields placeholders.
func NewLookup(source Source, ttl time.Duration, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Lookup{
		source:  source,
		ttl:     ttl,
		timeout: 2 * time.Second,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]cached),
	}
}

// GetUserProfile returns the profile of userID, or a deterministic placeholder.
func (l *Lookup) GetUserProfile(ctx context.Context, userID string) models.Profile {
	if l.source == nil {
		return Placeholder(userID)
	}

	l.mu.Lock()
	if c, ok := l.cache[userID]; ok && l.now().Before(c.expires) {
		l.mu.Unlock()
		return c.profile
	}
	l.mu.Unlock()

	v, _, _ := l.group.Do(userID, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		p, err := l.source.GetByUserID(ctx, userID)
		if err != nil {
			if !errors.Is(err, ErrProfileNotFound) {
				l.logger.Warn("profile lookup failed, using placeholder", zap.String("user_id", userID), zap.Error(err))
			}
			// Failures are not cached so the next join retries.
			return Placeholder(userID), nil
		}
		if p.Name == "" {
			p.Name = Placeholder(userID).Name
		}
		if p.Avatar == "" {
			p.Avatar = Placeholder(userID).Avatar
		}
		l.mu.Lock()
		l.cache[userID] = cached{profile: p, expires: l.now().Add(l.ttl)}
		l.mu.Unlock()
		return p, nil
	})
	return v.(models.Profile)
}

// Invalidate drops a cached profile.
func (l *Lookup) Invalidate(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, userID)
}

// Placeholder synthesises a profile from the user id alone.
func Placeholder(userID string) models.Profile {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return models.Profile{
		Name:   "User " + short,
		Avatar: "https://api.dicebear.com/7.x/identicon/svg?seed=" + url.QueryEscape(userID),
	}
}
