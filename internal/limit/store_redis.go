package limit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/redis/go-redis/v9"

	"quotad/internal/constants"
)

// createScript inserts a record unless the key exists and indexes its type
// under the resource.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

// updateScript is a compare-and-swap on the version field.
// Returns -1 when the key is missing, 0 on a version mismatch, 1 on success.
var updateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current then
    return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
    return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', ARGV[3])
return 1
`)

var deleteScript = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
    return 0
end
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

// RedisStore keeps each record in a hash holding the JSON document and its
// version. A set per resource indexes the types in use.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(key Key) string {
	return constants.RedisLimitPrefix + url.QueryEscape(key.Resource) + ":" + url.QueryEscape(key.Type)
}

func indexKey(resource string) string {
	return constants.RedisLimitIndexPrefix + url.QueryEscape(resource)
}

func encodeRecord(rec *Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal limit: %w", err)
	}
	return string(data), nil
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	stored := rec.Clone()
	stored.Version = 1
	data, err := encodeRecord(stored)
	if err != nil {
		return err
	}

	key := rec.Key()
	created, err := createScript.Run(ctx, s.client,
		[]string{recordKey(key), indexKey(key.Resource)},
		data, stored.Version, key.Type,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create limit %s: %w", key, err)
	}
	if created == 0 {
		return ErrAlreadyExists
	}
	rec.Version = stored.Version
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Record, error) {
	return s.get(ctx, recordKey(key))
}

func (s *RedisStore) get(ctx context.Context, redisKey string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read limit: %w", err)
	}
	data, ok := fields["data"]
	if !ok {
		return nil, ErrNotFound
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal limit: %w", err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid limit version %q: %w", fields["version"], err)
	}
	rec.Version = version
	return &rec, nil
}

// List implements Store. Without a resource filter the keyspace is scanned.
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	out := make([]*Record, 0)

	if filter.Resource != "" {
		types, err := s.client.SMembers(ctx, indexKey(filter.Resource)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read limit index: %w", err)
		}
		for _, t := range types {
			rec, err := s.Get(ctx, Key{Resource: filter.Resource, Type: t})
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		sortRecords(out)
		return out, nil
	}

	iter := s.client.Scan(ctx, 0, constants.RedisLimitPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rec, err := s.get(ctx, iter.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan error: %w", err)
	}
	sortRecords(out)
	return out, nil
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, rec *Record) error {
	next := rec.Clone()
	next.Version = rec.Version + 1
	data, err := encodeRecord(next)
	if err != nil {
		return err
	}

	key := rec.Key()
	res, err := updateScript.Run(ctx, s.client,
		[]string{recordKey(key)},
		rec.Version, data, next.Version,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to update limit %s: %w", key, err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrConflict
	}
	rec.Version = next.Version
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	res, err := deleteScript.Run(ctx, s.client,
		[]string{recordKey(key), indexKey(key.Resource)},
		key.Type,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to delete limit %s: %w", key, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements Store. The client is shared and is closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}
