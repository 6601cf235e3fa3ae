package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

const leasePrefix = "records-inbox:lease:"

// LeaseManager grants named leases with SET NX PX. Each acquisition stores
// its own token, so a holder can extend or release only its own lease.
type LeaseManager struct {
	client  redis.UniversalClient
	ownerID string
}

func NewLeaseManager(client redis.UniversalClient) *LeaseManager {
	return &LeaseManager{
		client:  client,
		ownerID: newOwnerID(),
	}
}

// newOwnerID is hostname:pid:random.
func newOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

func (m *LeaseManager) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := m.ownerID + ":" + uuid.NewString()
	ok, err := m.client.SetNX(ctx, leasePrefix+name, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (m *LeaseManager) Extend(ctx context.Context, name, token string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, m.client, []string{leasePrefix + name}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", name, err)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrLeaseLost, "extend lease", errors.New(name))
	}
	return nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release is a no-op when the lease expired or belongs to another token.
func (m *LeaseManager) Release(ctx context.Context, name, token string) error {
	_, err := releaseScript.Run(ctx, m.client, []string{leasePrefix + name}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

func (m *LeaseManager) OwnerID() string {
	return m.ownerID
}

func Ping(ctx context.Context, client redis.UniversalClient) error {
	return client.Ping(ctx).Err()
}
