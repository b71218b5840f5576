package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leasePrefix = "remote_session:owner:"

var acquireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == false or v == ARGV[1] or (ARGV[3] == '1' and v == 'ended') then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)

var retireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == false or v == ARGV[1] then
	redis.call('SET', KEYS[1], 'ended', 'PX', ARGV[2])
	return 1
end
return 0`)

// RedisLeases records session ownership in Redis so that exactly one coordinator
// instance holds a session in memory. Leases expire unless renewed, which lets a
// surviving instance rehydrate sessions of a crashed one.
type RedisLeases struct {
	client    redis.Cmdable
	owner     string
	ttl       time.Duration
	tombstone time.Duration
}

// NewRedisLeases creates a lease store. ttl bounds how long a crashed owner blocks its
// sessions; tombstone is how long an ended id stays barred from rehydration.
func NewRedisLeases(client redis.Cmdable, ttl, tombstone time.Duration) *RedisLeases {
	return &RedisLeases{client: client, owner: uuid.New().String(), ttl: ttl, tombstone: tombstone}
}

// Owner returns this instance's lease token.
func (l *RedisLeases) Owner() string { return l.owner }

// Acquire takes the lease for sessionID when it is free or already ours; fresh
// also takes over an ended id.
func (l *RedisLeases) Acquire(ctx context.Context, sessionID string, fresh bool) (bool, error) {
	flag := "0"
	if fresh {
		flag = "1"
	}
	n, err := acquireScript.Run(ctx, l.client, []string{leasePrefix + sessionID}, l.owner, l.ttl.Milliseconds(), flag).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Renew extends every lease we still hold and returns the ids that are no longer ours.
func (l *RedisLeases) Renew(ctx context.Context, sessionIDs []string) ([]string, error) {
	cmds := make([]*redis.Cmd, len(sessionIDs))
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range sessionIDs {
			cmds[i] = renewScript.Eval(ctx, pipe, []string{leasePrefix + id}, l.owner, l.ttl.Milliseconds())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var lost []string
	for i, cmd := range cmds {
		if n, _ := cmd.Int(); n == 0 {
			lost = append(lost, sessionIDs[i])
		}
	}
	return lost, nil
}

// Release drops our lease.
func (l *RedisLeases) Release(ctx context.Context, sessionID string) error {
	return releaseScript.Run(ctx, l.client, []string{leasePrefix + sessionID}, l.owner).Err()
}

// Retire replaces our lease with an ended marker.
func (l *RedisLeases) Retire(ctx context.Context, sessionID string) error {
	return retireScript.Run(ctx, l.client, []string{leasePrefix + sessionID}, l.owner, l.tombstone.Milliseconds()).Err()
}
