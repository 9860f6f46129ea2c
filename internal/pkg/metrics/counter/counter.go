package counter

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PaymentCountersKey is the Redis hash holding one field per reconciliation
// outcome.
const PaymentCountersKey = "payments:counters"

// Outcome counter names.
const (
	Verified      = "verified"
	Committed     = "committed"
	Pending       = "pending"
	Failed        = "failed"
	Declined      = "declined"
	FailedFinal   = "failed_final"
	Errored       = "errored"
	Expired       = "expired"
	Abandoned     = "abandoned"
	SweepsRun     = "sweeps_run"
	SweepsDropped = "sweeps_dropped"
	WebhooksSeen  = "webhooks_seen"
)

// Redis increments counters in a Redis hash.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, key: PaymentCountersKey}
}

// Incr bumps name by one.
func (r *Redis) Incr(ctx context.Context, name string) error {
	return r.client.HIncrBy(ctx, r.key, name, 1).Err()
}

// Snapshot returns the current value of every counter.
func (r *Redis) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Memory is an in-process counter set.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

func (m *Memory) Incr(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name]++
	return nil
}

func (m *Memory) Snapshot(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

// Get returns a single counter value.
func (m *Memory) Get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name]
}
