// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// changeChannel is the LISTEN/NOTIFY channel used for all collections; the
// notification payload is the collection name.
const changeChannel = "partydeck_changes"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	fields     JSONB NOT NULL,
	created    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS records_collection_idx ON records (collection);
CREATE INDEX IF NOT EXISTS records_fields_idx ON records USING gin (fields);
`

// PostgresStore persists every collection in a single JSONB-document table.
// Equality filters map onto jsonb containment; change notification rides on
// LISTEN/NOTIFY with one dedicated listener connection per store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger

	mu       sync.Mutex
	subs     map[string][]*pgSub
	nextSub  int
	listenOn bool
}

type pgSub struct {
	id     int
	coll   string
	signal chan struct{}
	done   chan struct{}
}

// NewPostgresStore connects, ensures the schema, and returns the store.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *logrus.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure records schema: %w", err)
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger,
		subs:   make(map[string][]*pgSub),
	}, nil
}

func (s *PostgresStore) Collection(name string) Collection {
	return &pgCollection{store: s, name: name}
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	for _, subs := range s.subs {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	s.subs = make(map[string][]*pgSub)
	s.mu.Unlock()
	s.pool.Close()
	return nil
}

type pgCollection struct {
	store *PostgresStore
	name  string
}

func (c *pgCollection) Create(ctx context.Context, fields map[string]any) (Record, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal fields for %s: %w", c.name, err)
	}
	id := uuid.New()

	var created, updated time.Time
	err = pgx.BeginTxFunc(ctx, c.store.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO records (id, collection, fields) VALUES ($1, $2, $3::jsonb)
			 RETURNING created, updated`,
			id.String(), c.name, data)
		if err := row.Scan(&created, &updated); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, c.name)
		return err
	})
	if err != nil {
		return Record{}, fmt.Errorf("postgres create %s: %w", c.name, err)
	}
	return Record{ID: id, Fields: CloneFields(fields), Created: created, Updated: updated}, nil
}

func (c *pgCollection) Update(ctx context.Context, id uuid.UUID, partial map[string]any) (Record, error) {
	data, err := json.Marshal(partial)
	if err != nil {
		return Record{}, fmt.Errorf("marshal fields for %s: %w", c.name, err)
	}

	var rec Record
	err = pgx.BeginTxFunc(ctx, c.store.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// Shallow jsonb merge: field maps are flat, last write wins.
		row := tx.QueryRow(ctx,
			`UPDATE records SET fields = fields || $3::jsonb, updated = now()
			 WHERE id = $1 AND collection = $2
			 RETURNING fields, created, updated`,
			id.String(), c.name, data)
		var fieldsData []byte
		if err := row.Scan(&fieldsData, &rec.Created, &rec.Updated); err != nil {
			return err
		}
		if err := json.Unmarshal(fieldsData, &rec.Fields); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, c.name)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("postgres update %s/%s: %w", c.name, id, err)
	}
	rec.ID = id
	return rec, nil
}

func (c *pgCollection) Delete(ctx context.Context, id uuid.UUID) error {
	err := pgx.BeginTxFunc(ctx, c.store.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM records WHERE id = $1 AND collection = $2`,
			id.String(), c.name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, c.name)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("postgres delete %s/%s: %w", c.name, id, err)
	}
	return nil
}

func (c *pgCollection) Filter(match map[string]any) Query {
	return &pgQuery{coll: c, match: CloneFields(match)}
}

type pgQuery struct {
	coll  *pgCollection
	match map[string]any
}

func (q *pgQuery) GetList(ctx context.Context) ([]Record, error) {
	matchData, err := json.Marshal(q.match)
	if err != nil {
		return nil, fmt.Errorf("marshal filter for %s: %w", q.coll.name, err)
	}
	rows, err := q.coll.store.pool.Query(ctx,
		`SELECT id, fields, created, updated FROM records
		 WHERE collection = $1 AND fields @> $2::jsonb
		 ORDER BY created, id`,
		q.coll.name, matchData)
	if err != nil {
		return nil, fmt.Errorf("postgres list %s: %w", q.coll.name, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			idStr      string
			fieldsData []byte
			rec        Record
		)
		if err := rows.Scan(&idStr, &fieldsData, &rec.Created, &rec.Updated); err != nil {
			return nil, fmt.Errorf("postgres scan %s: %w", q.coll.name, err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("postgres record id %q corrupt: %w", idStr, err)
		}
		rec.ID = id
		if err := json.Unmarshal(fieldsData, &rec.Fields); err != nil {
			return nil, fmt.Errorf("postgres record %s/%s corrupt: %w", q.coll.name, id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (q *pgQuery) Subscribe(ctx context.Context, fn func([]Record)) (func(), error) {
	s := q.coll.store
	sub := &pgSub{
		coll:   q.coll.name,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	sub.id = s.nextSub
	s.nextSub++
	s.subs[q.coll.name] = append(s.subs[q.coll.name], sub)
	startListener := !s.listenOn
	s.listenOn = true
	s.mu.Unlock()

	if startListener {
		go s.listen(context.Background())
	}

	go func() {
		for {
			select {
			case <-sub.signal:
				list, err := q.GetList(ctx)
				if err != nil {
					s.logger.WithField("collection", q.coll.name).
						WithError(err).Warn("postgres subscription refresh failed")
					continue
				}
				fn(list)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			subs := s.subs[q.coll.name]
			for i, other := range subs {
				if other.id == sub.id {
					s.subs[q.coll.name] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			close(sub.done)
		})
	}
	return unsub, nil
}

// listen holds one dedicated connection on LISTEN and fans notifications out
// to the per-subscription signal channels. The connection is re-acquired with
// a short delay after any failure; subscribers fall back to their poll feed
// in the gap.
func (s *PostgresStore) listen(ctx context.Context) {
	for {
		if err := s.listenOnce(ctx); err != nil {
			s.logger.WithError(err).Warn("postgres listener disconnected, reacquiring")
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", changeChannel, err)
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		for _, sub := range s.subs[n.Payload] {
			select {
			case sub.signal <- struct{}{}:
			default:
			}
		}
		s.mu.Unlock()
	}
}
