package sessions

import (
	"context"
	"time"
)

const leaseCallTimeout = 2 * time.Second

// Leases records which coordinator instance owns a session id. Only the owner may hold
// the session in memory; other instances refuse to create or rehydrate it.
type Leases interface {
	// Acquire takes ownership of sessionID when it is free or already ours.
	// fresh also allows taking over an id whose previous session has ended.
	Acquire(ctx context.Context, sessionID string, fresh bool) (bool, error)
	// Renew extends the leases we hold and returns the ids we no longer own.
	Renew(ctx context.Context, sessionIDs []string) ([]string, error)
	// Release drops our lease without marking the id ended.
	Release(ctx context.Context, sessionID string) error
	// Retire marks sessionID ended so no instance rehydrates it.
	Retire(ctx context.Context, sessionID string) error
}

// localLeases is used when the registry runs on a single instance.
type localLeases struct{}

func (localLeases) Acquire(context.Context, string, bool) (bool, error) { return true, nil }
func (localLeases) Renew(context.Context, []string) ([]string, error)   { return nil, nil }
func (localLeases) Release(context.Context, string) error               { return nil }
func (localLeases) Retire(context.Context, string) error                { return nil }
