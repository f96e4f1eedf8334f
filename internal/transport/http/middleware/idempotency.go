package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const IdempotencyHeader = "Idempotency-Key"

const defaultIdempotencyTTL = 24 * time.Hour

var (
	ErrIdempotencyConflict   = errors.New("idempotency key already used for a different request")
	ErrIdempotencyInProgress = errors.New("idempotency key is held by a request still running")
)

// IdempotencyDB is satisfied by *pgxpool.Pool and pgxmock pools.
type IdempotencyDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore keeps the response of a replayable write per user, key and
// endpoint for ttl. After that the key may be reused for any payload. A key is
// reserved with a pending row (NULL response) while its request runs. A nil
// store or database disables it.
type IdempotencyStore struct {
	db  IdempotencyDB
	ttl time.Duration
}

func NewIdempotencyStore(db IdempotencyDB, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &IdempotencyStore{db: db, ttl: ttl}
}

func (s *IdempotencyStore) Enabled() bool {
	return s != nil && s.db != nil
}

// RequestHash fingerprints a raw request body.
func RequestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

const (
	selectIdempotentSQL = `
SELECT request_hash, response_json
FROM idempotency_keys
WHERE user_id = $1 AND key = $2 AND endpoint = $3
  AND created_at > now() - make_interval(secs => $4)`

	upsertIdempotentSQL = `
INSERT INTO idempotency_keys (user_id, key, endpoint, request_hash, response_json)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, key, endpoint) DO UPDATE
SET request_hash = EXCLUDED.request_hash,
    response_json = EXCLUDED.response_json,
    created_at = now()
WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
   OR idempotency_keys.created_at <= now() - make_interval(secs => $6)`

	reserveIdempotentSQL = `
INSERT INTO idempotency_keys (user_id, key, endpoint, request_hash, response_json)
VALUES ($1, $2, $3, $4, NULL)
ON CONFLICT (user_id, key, endpoint) DO UPDATE
SET request_hash = EXCLUDED.request_hash,
    response_json = NULL,
    created_at = now()
WHERE idempotency_keys.created_at <= now() - make_interval(secs => $5)`

	releaseIdempotentSQL = `
DELETE FROM idempotency_keys
WHERE user_id = $1 AND key = $2 AND endpoint = $3 AND response_json IS NULL`

	purgeIdempotentSQL = `
DELETE FROM idempotency_keys
WHERE created_at <= now() - make_interval(secs => $1)`
)

// Check returns the stored response for a live key. A live key recorded for a
// different body yields ErrIdempotencyConflict; one still pending yields
// ErrIdempotencyInProgress.
func (s *IdempotencyStore) Check(ctx context.Context, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	if !s.Enabled() {
		return nil, false, nil
	}
	var storedHash string
	var stored []byte
	err := s.db.QueryRow(ctx, selectIdempotentSQL, userID, key, endpoint, s.ttl.Seconds()).Scan(&storedHash, &stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	case storedHash != requestHash:
		return nil, false, ErrIdempotencyConflict
	case stored == nil:
		return nil, false, ErrIdempotencyInProgress
	}
	return stored, true, nil
}

// Reserve claims a key before the request runs. Only one caller gets the row;
// the others see ErrIdempotencyInProgress until it is saved or released.
func (s *IdempotencyStore) Reserve(ctx context.Context, userID, endpoint, key, requestHash string) error {
	if !s.Enabled() {
		return nil
	}
	tag, err := s.db.Exec(ctx, reserveIdempotentSQL, userID, key, endpoint, requestHash, s.ttl.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyInProgress
	}
	return nil
}

// Release drops a pending reservation so the key can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, userID, endpoint, key string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.db.Exec(ctx, releaseIdempotentSQL, userID, key, endpoint)
	return err
}

func (s *IdempotencyStore) Save(ctx context.Context, userID, endpoint, key, requestHash string, response json.RawMessage) error {
	if !s.Enabled() {
		return nil
	}
	tag, err := s.db.Exec(ctx, upsertIdempotentSQL, userID, key, endpoint, requestHash, []byte(response), s.ttl.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Purge deletes expired keys and reports how many went.
func (s *IdempotencyStore) Purge(ctx context.Context) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, purgeIdempotentSQL, s.ttl.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
