// Package locks answers whether a user currently holds the lease on a task.
// Leases are written by the scheduling subsystem; this package only reads them.
package locks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const taskUsersKeyPrefix = "lease:task:"

// HashReader is the part of the redis client used for lease lookups.
type HashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// RedisLockManager reads task leases stored as one hash per task: field is
// the user id, value is the unix time (seconds, fractional allowed) the
// lease was taken.
type RedisLockManager struct {
	client HashReader
	now    func() time.Time
}

func NewRedisLockManager(client HashReader) *RedisLockManager {
	return &RedisLockManager{client: client, now: time.Now}
}

func TaskUsersKey(taskID int64) string {
	return taskUsersKeyPrefix + strconv.FormatInt(taskID, 10)
}

// HasLock reports whether userID took the lease on taskID less than ttl ago.
func (m *RedisLockManager) HasLock(ctx context.Context, taskID, userID int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}

	raw, err := m.client.HGet(ctx, TaskUsersKey(taskID), strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lease lookup task %d: %w", taskID, err)
	}

	ts, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return false, fmt.Errorf("lease lookup task %d: bad timestamp %q", taskID, raw)
	}

	sec, frac := math.Modf(ts)
	acquired := time.Unix(int64(sec), int64(frac*1e9))

	return m.now().Before(acquired.Add(ttl)), nil
}
