// Package redissession persists session selections in Redis hashes.
//
// Each session is a hash "session:{sid}" holding accessType and selectedSchool,
// always written in one MULTI so readers never see half of a selection.
package redissession

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/eloschool/backend/core/access"
)

const keyPrefix = "session:"

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

var _ access.SessionStore = (*Store)(nil)

// Open connects to Redis and checks the connection.
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}
	return client, nil
}

// NewStore returns a store whose entries expire ttl after their last write. A zero ttl never expires.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(sid string) string {
	return keyPrefix + sid
}

func (s *Store) Load(ctx context.Context, sid string) (access.Selection, error) {
	fields, err := s.client.HGetAll(ctx, key(sid)).Result()
	if err != nil {
		return access.Selection{}, errors.Wrap(err, "loading session")
	}
	if len(fields) == 0 {
		return access.Selection{}, access.ErrNoSelection
	}
	return access.DecodeSelection(fields)
}

func (s *Store) Save(ctx context.Context, sid string, sel access.Selection) error {
	fields, err := access.EncodeSelection(sel)
	if err != nil {
		return err
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key(sid))
	pipe.HSet(ctx, key(sid), values)
	if s.ttl > 0 {
		pipe.Expire(ctx, key(sid), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "saving session")
}

func (s *Store) Clear(ctx context.Context, sid string) error {
	return errors.Wrap(s.client.Del(ctx, key(sid)).Err(), "clearing session")
}
