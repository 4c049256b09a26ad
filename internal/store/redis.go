// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore keeps each record as a JSON document under its own key, with a
// per-collection set for membership and a per-collection pub/sub channel for
// change notification.
//
// Key scheme:
//
//	pd:rec:<collection>:<id>   record JSON
//	pd:col:<collection>        set of record IDs
//	pd:chg:<collection>        pub/sub channel, payload is the record ID
type RedisStore struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewRedisStore connects to redis and verifies the connection with a ping.
func NewRedisStore(addr string, db int, logger *logrus.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{rdb: rdb, logger: logger}, nil
}

func (s *RedisStore) Collection(name string) Collection {
	return &redisCollection{store: s, name: name}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func recKey(coll string, id uuid.UUID) string { return "pd:rec:" + coll + ":" + id.String() }
func colKey(coll string) string               { return "pd:col:" + coll }
func chgKey(coll string) string               { return "pd:chg:" + coll }

type redisCollection struct {
	store *RedisStore
	name  string
}

func (c *redisCollection) Create(ctx context.Context, fields map[string]any) (Record, error) {
	now := time.Now()
	rec := Record{
		ID:      uuid.New(),
		Fields:  CloneFields(fields),
		Created: now,
		Updated: now,
	}
	if err := c.put(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// updateTxRetries bounds how often Update re-runs its transaction after
// losing a WATCH race.
const updateTxRetries = 5

// Update merges partial inside a WATCH/MULTI transaction, so two concurrent
// partial updates cannot lose each other's fields: the loser of the race
// re-reads the fresh record and merges again.
func (c *redisCollection) Update(ctx context.Context, id uuid.UUID, partial map[string]any) (Record, error) {
	key := recKey(c.name, id)
	var rec Record
	merge := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get %s/%s: %w", c.name, id, err)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("redis record %s/%s corrupt: %w", c.name, id, err)
		}
		for k, v := range partial {
			rec.Fields[k] = v
		}
		rec.Updated = time.Now()
		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s/%s: %w", c.name, id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < updateTxRetries; attempt++ {
		err := c.store.rdb.Watch(ctx, merge, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		c.publish(ctx, id)
		return rec, nil
	}
	return Record{}, fmt.Errorf("redis update %s/%s: retries exhausted under contention", c.name, id)
}

func (c *redisCollection) Delete(ctx context.Context, id uuid.UUID) error {
	rdb := c.store.rdb
	if err := rdb.Del(ctx, recKey(c.name, id)).Err(); err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", c.name, id, err)
	}
	if err := rdb.SRem(ctx, colKey(c.name), id.String()).Err(); err != nil {
		return fmt.Errorf("redis srem %s/%s: %w", c.name, id, err)
	}
	c.publish(ctx, id)
	return nil
}

func (c *redisCollection) Filter(match map[string]any) Query {
	return &redisQuery{coll: c, match: CloneFields(match)}
}

func (c *redisCollection) put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s/%s: %w", c.name, rec.ID, err)
	}
	rdb := c.store.rdb
	if err := rdb.Set(ctx, recKey(c.name, rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", c.name, rec.ID, err)
	}
	if err := rdb.SAdd(ctx, colKey(c.name), rec.ID.String()).Err(); err != nil {
		return fmt.Errorf("redis sadd %s/%s: %w", c.name, rec.ID, err)
	}
	c.publish(ctx, rec.ID)
	return nil
}

// publish is best-effort: subscribers have a backup poll, so a dropped
// notification delays convergence but never loses state.
func (c *redisCollection) publish(ctx context.Context, id uuid.UUID) {
	if err := c.store.rdb.Publish(ctx, chgKey(c.name), id.String()).Err(); err != nil {
		c.store.logger.WithFields(logrus.Fields{
			"collection": c.name,
			"record":     id,
			"error":      err,
		}).Warn("redis change publish failed")
	}
}

type redisQuery struct {
	coll  *redisCollection
	match map[string]any
}

func (q *redisQuery) GetList(ctx context.Context) ([]Record, error) {
	rdb := q.coll.store.rdb
	ids, err := rdb.SMembers(ctx, colKey(q.coll.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", q.coll.name, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, "pd:rec:"+q.coll.name+":"+id)
	}
	vals, err := rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %s: %w", q.coll.name, err)
	}

	var out []Record
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // member without a record key; treat as deleted
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			q.coll.store.logger.WithField("collection", q.coll.name).
				WithError(err).Warn("skipping corrupt redis record")
			continue
		}
		if rec.Matches(q.match) {
			out = append(out, rec)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (q *redisQuery) Subscribe(ctx context.Context, fn func([]Record)) (func(), error) {
	pubsub := q.coll.store.rdb.Subscribe(ctx, chgKey(q.coll.name))
	// Force the SUBSCRIBE round trip so a broken connection fails here
	// rather than silently on first delivery.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", q.coll.name, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				list, err := q.GetList(subCtx)
				if err != nil {
					q.coll.store.logger.WithField("collection", q.coll.name).
						WithError(err).Warn("redis subscription refresh failed")
					continue
				}
				fn(list)
			case <-subCtx.Done():
				return
			}
		}
	}()

	unsub := func() {
		cancel()
		pubsub.Close()
	}
	return unsub, nil
}

func sortByCreated(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Created.Equal(recs[j].Created) {
			return recs[i].ID.String() < recs[j].ID.String()
		}
		return recs[i].Created.Before(recs[j].Created)
	})
}
