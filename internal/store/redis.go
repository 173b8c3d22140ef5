package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"meeting-insights-go/internal/logger"
)

const (
	redisInstancesKey = "meetings:instances"
	redisActiveKey    = "meetings:active"
	redisRecordPrefix = "meetings:record:"
)

// Redis keeps instances in one hash, the ids of active instances in a set, and records as
// plain keys written with SETNX.
type Redis struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedis(ctx context.Context, rawURL string, log *logger.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, wrap("open", "redis", fmt.Errorf("invalid redis url: %w", err))
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, wrap("open", "redis", fmt.Errorf("failed to connect to Redis: %w", err))
	}

	log.WithField("addr", opts.Addr).WithField("db", opts.DB).Info("connected to redis")
	return &Redis{client: client, log: log}, nil
}

func (r *Redis) SaveInstance(ctx context.Context, rec InstanceRecord) error {
	const op = "save instance"
	if err := validateKey(rec.ID); err != nil {
		return wrap(op, rec.ID, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return wrap(op, rec.ID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisInstancesKey, rec.ID, data)
		if rec.Active {
			pipe.SAdd(ctx, redisActiveKey, rec.ID)
		} else {
			pipe.SRem(ctx, redisActiveKey, rec.ID)
		}
		return nil
	})
	return wrap(op, rec.ID, err)
}

func (r *Redis) GetInstance(ctx context.Context, id string) (InstanceRecord, error) {
	data, err := r.client.HGet(ctx, redisInstancesKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return InstanceRecord{}, wrap("get instance", id, ErrNotFound)
	}
	if err != nil {
		return InstanceRecord{}, wrap("get instance", id, err)
	}

	var rec InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return InstanceRecord{}, wrap("get instance", id, fmt.Errorf("failed to unmarshal instance: %w", err))
	}
	return rec, nil
}

func (r *Redis) ListActive(ctx context.Context) ([]InstanceRecord, error) {
	ids, err := r.client.SMembers(ctx, redisActiveKey).Result()
	if err != nil {
		return nil, wrap("list active", "", err)
	}
	sort.Strings(ids)

	out := make([]InstanceRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetInstance(ctx, id)
		if IsNotFound(err) {
			r.log.WithField("instance_id", id).Warn("active set references a missing instance")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Redis) PutRecord(ctx context.Context, key string, payload []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, wrap("put record", key, err)
	}
	created, err := r.client.SetNX(ctx, redisRecordPrefix+key, payload, 0).Result()
	return created, wrap("put record", key, err)
}

func (r *Redis) GetRecord(ctx context.Context, key string) ([]byte, error) {
	payload, err := r.client.Get(ctx, redisRecordPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, wrap("get record", key, ErrNotFound)
	}
	return payload, wrap("get record", key, err)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
