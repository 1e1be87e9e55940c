// Package ratelimit decides whether a client may start another conversion.
//
// Two budgets are enforced together in a single Redis script: a token bucket
// on how often a client starts conversions, and a cap on how many of its
// conversions run at the same time. A conversion holds a slot from admission
// until Release; slots carry an expiry so a server that dies mid-job does not
// pin its clients' budgets forever.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix = "ebookpdf:admit"

	// Running conversions give no useful refill estimate, so a busy client
	// is told to come back after a fixed pause.
	busyRetryAfter = 10 * time.Second
	defaultSlotTTL = 2 * time.Hour
)

// Policy bounds one client's conversions. Zero values disable the
// corresponding budget.
type Policy struct {
	RequestsPerMinute int
	BurstSize         int
	MaxConcurrentJobs int
	// SlotTTL is how long an unreleased slot survives.
	SlotTTL time.Duration
}

func (p Policy) rateEnabled() bool {
	return p.RequestsPerMinute > 0 && p.BurstSize > 0
}

func (p Policy) Enabled() bool {
	return p.rateEnabled() || p.MaxConcurrentJobs > 0
}

type Reason string

const (
	ReasonNone Reason = ""
	ReasonRate Reason = "rate"
	ReasonBusy Reason = "busy"
)

type Admission struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
	// Running counts the client's conversions, this one included when admitted.
	Running int
}

type Admitter interface {
	Admit(ctx context.Context, client, slotID string, p Policy) (Admission, error)
	Release(ctx context.Context, client, slotID string) error
}

// RedisAdmitter keeps budgets in Redis so every server instance shares them.
type RedisAdmitter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisAdmitter(rdb *redis.Client) *RedisAdmitter {
	return &RedisAdmitter{rdb: rdb, now: time.Now}
}

// KEYS: bucket hash, running zset (slot -> expiry ms).
// Returns {allowed, reason, retry_after_s, running}; reason 1 = rate, 2 = busy.
// A busy rejection is decided before the bucket so it costs no token.
var admitScript = redis.NewScript(`
local bucket = KEYS[1]
local running = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket_ttl = tonumber(ARGV[4])
local max_running = tonumber(ARGV[5])
local slot = ARGV[6]
local slot_ttl = tonumber(ARGV[7])

redis.call("ZREMRANGEBYSCORE", running, "-inf", now)
local active = tonumber(redis.call("ZCARD", running))
if max_running > 0 and active >= max_running then
  return {0, 2, 0, active}
end

if capacity > 0 then
  local tokens = tonumber(redis.call("HGET", bucket, "tokens"))
  local ts = tonumber(redis.call("HGET", bucket, "ts"))
  if not tokens then tokens = capacity end
  if not ts or now < ts then ts = now end
  tokens = math.min(capacity, tokens + (now - ts) * (rate / 1000.0))
  if tokens < 1.0 then
    redis.call("HSET", bucket, "tokens", tokens, "ts", now)
    redis.call("PEXPIRE", bucket, bucket_ttl)
    local retry = 60
    if rate > 0 then
      retry = math.ceil((1.0 - tokens) / rate)
      if retry < 1 then retry = 1 end
    end
    return {0, 1, retry, active}
  end
  redis.call("HSET", bucket, "tokens", tokens - 1.0, "ts", now)
  redis.call("PEXPIRE", bucket, bucket_ttl)
end

if max_running > 0 then
  redis.call("ZADD", running, now + slot_ttl, slot)
  redis.call("PEXPIRE", running, slot_ttl)
  active = active + 1
end
return {1, 0, 0, active}
`)

func (a *RedisAdmitter) Admit(ctx context.Context, client, slotID string, p Policy) (Admission, error) {
	if a == nil || a.rdb == nil || !p.Enabled() {
		return Admission{Allowed: true}, nil
	}
	bucket, running := clientKeys(client)

	ratePerSec, capacity := 0.0, 0.0
	if p.rateEnabled() {
		ratePerSec = float64(p.RequestsPerMinute) / 60.0
		capacity = float64(p.BurstSize)
	}
	slotTTL := p.SlotTTL
	if slotTTL <= 0 {
		slotTTL = defaultSlotTTL
	}
	nowMS := a.now().UTC().UnixMilli()

	res, err := admitScript.Run(ctx, a.rdb, []string{bucket, running},
		ratePerSec, capacity, nowMS, bucketTTL(ratePerSec, capacity).Milliseconds(),
		p.MaxConcurrentJobs, slotID, slotTTL.Milliseconds(),
	).Result()
	if err != nil {
		return Admission{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		return Admission{}, fmt.Errorf("unexpected admission response: %T", res)
	}
	allowed, _ := vals[0].(int64)
	reason, _ := vals[1].(int64)
	retryAfterS, _ := vals[2].(int64)
	active, _ := vals[3].(int64)

	adm := Admission{Allowed: allowed == 1, Running: int(active)}
	switch reason {
	case 1:
		adm.Reason = ReasonRate
		if retryAfterS <= 0 {
			retryAfterS = 1
		}
		adm.RetryAfter = time.Duration(retryAfterS) * time.Second
	case 2:
		adm.Reason = ReasonBusy
		adm.RetryAfter = busyRetryAfter
	}
	return adm, nil
}

// Release frees the slot taken by Admit. Releasing an unknown slot is a no-op.
func (a *RedisAdmitter) Release(ctx context.Context, client, slotID string) error {
	if a == nil || a.rdb == nil {
		return nil
	}
	_, running := clientKeys(client)
	return a.rdb.ZRem(ctx, running, slotID).Err()
}

// clientKeys hashes the client so addresses and tokens never appear in Redis keys.
func clientKeys(client string) (bucket, running string) {
	client = strings.TrimSpace(client)
	if client == "" {
		client = "unknown"
	}
	sum := sha256.Sum256([]byte(client))
	base := fmt.Sprintf("%s:%s", keyPrefix, hex.EncodeToString(sum[:]))
	return base + ":bucket", base + ":running"
}

// bucketTTL keeps bucket state for about two refill cycles.
func bucketTTL(ratePerSec, capacity float64) time.Duration {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	if ratePerSec <= 0 || capacity <= 0 {
		return 2 * time.Minute
	}
	ttl := time.Duration(math.Ceil(capacity/ratePerSec*2.0))*time.Second + 5*time.Second
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}
