package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/osvaldoandrade/ebookpdf/pkg/domain"

	"github.com/go-redis/redis/v8"
)

var ErrJobNotFound = errors.New("job not found")

const defaultHistoryLimit = 1000

type JobRepository interface {
	Save(ctx context.Context, rec domain.JobRecord) error
	Get(ctx context.Context, id string) (*domain.JobRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.JobRecord, error)
}

type jobRedisRepo struct {
	rdb   *redis.Client
	limit int
}

func NewJobRepository(rdb *redis.Client, historyLimit int) JobRepository {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &jobRedisRepo{rdb: rdb, limit: historyLimit}
}

func (r *jobRedisRepo) keyJobsHash() string   { return "ebookpdf:jobs" }
func (r *jobRedisRepo) keyRecentIndex() string { return "ebookpdf:jobs:recent" }

func (r *jobRedisRepo) Save(ctx context.Context, rec domain.JobRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.keyJobsHash(), rec.ID, string(b))
		// NX keeps the original creation order when a record is updated
		pipe.ZAddNX(ctx, r.keyRecentIndex(), &redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save job: %w", err)
	}
	return r.trim(ctx)
}

func (r *jobRedisRepo) trim(ctx context.Context) error {
	n, err := r.rdb.ZCard(ctx, r.keyRecentIndex()).Result()
	if err != nil {
		return fmt.Errorf("redis ZCARD jobs: %w", err)
	}
	excess := n - int64(r.limit)
	if excess <= 0 {
		return nil
	}
	ids, err := r.rdb.ZRange(ctx, r.keyRecentIndex(), 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("redis ZRANGE jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.keyJobsHash(), ids...)
		pipe.ZRem(ctx, r.keyRecentIndex(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis trim jobs: %w", err)
	}
	return nil
}

func (r *jobRedisRepo) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	js, err := r.rdb.HGet(ctx, r.keyJobsHash(), id).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET job: %w", err)
	}
	var rec domain.JobRecord
	if err := json.Unmarshal([]byte(js), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &rec, nil
}

func (r *jobRedisRepo) ListRecent(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = r.limit
	}
	ids, err := r.rdb.ZRevRange(ctx, r.keyRecentIndex(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZREVRANGE jobs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.JobRecord{}, nil
	}
	vals, err := r.rdb.HMGet(ctx, r.keyJobsHash(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET jobs: %w", err)
	}
	out := make([]domain.JobRecord, 0, len(vals))
	for _, v := range vals {
		js, ok := v.(string)
		if !ok || js == "" {
			continue
		}
		var rec domain.JobRecord
		if err := json.Unmarshal([]byte(js), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
