package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisUpdateRetries = 8

// RedisRegistry stores each record as a JSON value so several service
// instances can share job state. Updates use WATCH/MULTI and retry on
// conflicting writers.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisRegistry(client, opts.Prefix), nil
}

func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "enhancer:job:"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + id
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) Create(ctx context.Context, id, originalFilename string) (Record, error) {
	rec := newRecord(id, originalFilename, now())
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode job: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(id), data, 0).Result()
	if err != nil {
		return Record{}, fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrExists, id)
	}
	return rec, nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Record, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get job: %w", err)
	}
	return decodeRecord(data)
}

func (r *RedisRegistry) Update(ctx context.Context, id string, mutate Mutator) (Record, error) {
	key := r.key(id)
	var result Record

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeRecord(data)
		if err != nil {
			return err
		}
		next, err := applyMutator(current, mutate)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for attempt := 0; attempt < redisUpdateRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		return result, nil
	}
	return Record{}, fmt.Errorf("update job %s: too many concurrent writers", id)
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]Record, error) {
	var out []Record
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		if rec.ID == "" {
			rec.ID = strings.TrimPrefix(iter.Val(), r.prefix)
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.Before(out[j].UploadTime) })
	return out, nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode job: %w", err)
	}
	return rec, nil
}
