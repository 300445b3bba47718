package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predator/internal/domain"
)

// releaseLua deletes the lease key only while it still holds our token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the lease TTL only while it still holds our token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LeaseManager grants exclusive roles with SET NX PX. The engine takes the
// "engine" role so that one instance owns SystemState.
type LeaseManager struct {
	c       *Client
	release *redis.Script
	renew   *redis.Script
}

// NewLeaseManager creates a LeaseManager.
func NewLeaseManager(c *Client) *LeaseManager {
	return &LeaseManager{
		c:       c,
		release: redis.NewScript(releaseLua),
		renew:   redis.NewScript(renewLua),
	}
}

// Acquire claims role for ttl or returns domain.ErrLeaseHeld.
func (lm *LeaseManager) Acquire(ctx context.Context, role string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.New().String()
	key := lm.c.key("lease:" + role)

	ok, err := lm.c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", role, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lease %s: %w", role, domain.ErrLeaseHeld)
	}
	return &lease{lm: lm, key: key, role: role, token: token, ttl: ttl}, nil
}

type lease struct {
	lm    *LeaseManager
	key   string
	role  string
	token string
	ttl   time.Duration

	once sync.Once
}

// Renew extends the lease. Losing it returns domain.ErrLeaseHeld.
func (l *lease) Renew(ctx context.Context) error {
	n, err := l.lm.renew.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: renew lease %s: %w", l.role, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: lease %s lost: %w", l.role, domain.ErrLeaseHeld)
	}
	return nil
}

// Release gives the lease up. It is safe to call more than once.
func (l *lease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.release.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token).Err()
	})
}

var _ domain.LeaseManager = (*LeaseManager)(nil)
