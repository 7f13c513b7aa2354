package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const actionRecordVersionV1 = 1

// Purpose namespaces action tokens. A user has at most one live token per purpose.
type Purpose string

const (
	PurposePasswordReset     Purpose = "reset"
	PurposeEmailVerification Purpose = "verify"
)

var (
	ErrActionNotFound         = errors.New("action token not found")
	ErrActionExpired          = errors.New("action token expired")
	ErrActionRedisUnavailable = errors.New("action token redis unavailable")
)

type ActionRecord struct {
	TokenHash [32]byte
	ExpiresAt int64
}

// ActionTokenStore keeps one token hash per (purpose, user). Saving overwrites, so the
// last writer wins and every earlier token for that purpose stops validating.
type ActionTokenStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewActionTokenStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *ActionTokenStore {
	if prefix == "" {
		prefix = "azt"
	}
	if now == nil {
		now = time.Now
	}
	return &ActionTokenStore{redis: redisClient, prefix: prefix, now: now}
}

func (s *ActionTokenStore) key(purpose Purpose, userID string) string {
	return s.prefix + ":" + string(purpose) + ":" + userID
}

// Put stores tokenHash as the only live token of purpose for userID.
func (s *ActionTokenStore) Put(ctx context.Context, purpose Purpose, userID string, tokenHash [32]byte, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("action token already expired")
	}
	encoded, err := encodeActionRecord(&ActionRecord{TokenHash: tokenHash, ExpiresAt: expiresAt.Unix()})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(purpose, userID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrActionRedisUnavailable, err)
	}
	return nil
}

// Check validates tokenHash against the stored record without consuming it.
func (s *ActionTokenStore) Check(ctx context.Context, purpose Purpose, userID string, tokenHash [32]byte) error {
	data, err := s.redis.Get(ctx, s.key(purpose, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrActionNotFound
		}
		return fmt.Errorf("%w: %v", ErrActionRedisUnavailable, err)
	}
	record, err := decodeActionRecord(data)
	if err != nil {
		return ErrActionNotFound
	}
	return s.match(record, tokenHash)
}

func (s *ActionTokenStore) match(record *ActionRecord, tokenHash [32]byte) error {
	if subtle.ConstantTimeCompare(record.TokenHash[:], tokenHash[:]) != 1 {
		return ErrActionNotFound
	}
	if s.now().Unix() >= record.ExpiresAt {
		return ErrActionExpired
	}
	return nil
}

// Consume validates tokenHash and deletes the record in one optimistic transaction.
func (s *ActionTokenStore) Consume(ctx context.Context, purpose Purpose, userID string, tokenHash [32]byte) error {
	const maxRetries = 4
	key := s.key(purpose, userID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeActionRecord(data)
			if err != nil {
				return ErrActionNotFound
			}
			if err := s.match(record, tokenHash); err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.Nil):
			return ErrActionNotFound
		case errors.Is(err, ErrActionNotFound), errors.Is(err, ErrActionExpired):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrActionRedisUnavailable, err)
		}
	}
	return ErrActionNotFound
}

// Delete removes the live token of purpose for userID, if any.
func (s *ActionTokenStore) Delete(ctx context.Context, purpose Purpose, userID string) error {
	if err := s.redis.Del(ctx, s.key(purpose, userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrActionRedisUnavailable, err)
	}
	return nil
}

func encodeActionRecord(record *ActionRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(actionRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.TokenHash[:])
	return buf.Bytes(), nil
}

func decodeActionRecord(data []byte) (*ActionRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != actionRecordVersionV1 {
		return nil, errors.New("invalid action record version")
	}

	record := &ActionRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.TokenHash[:]); err != nil {
		return nil, err
	}
	return record, nil
}
