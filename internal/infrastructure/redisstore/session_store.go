package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/redis/go-redis/v9"
)

// Sessions are kept this long after they stop being verifiable so duplicate
// callbacks still find the verified record.
const sessionRetention = 7 * 24 * time.Hour

const (
	fieldData    = "data"
	fieldStatus  = "status"
	fieldTxn     = "txn"
	fieldRecord  = "record"
	fieldReason  = "failure_reason"
	fieldUpdated = "updated_at"
)

// claimScript moves a created/authorized session to verified and drops the open
// index. Returns "claimed", "existing" or "unknown".
var claimScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 'unknown' end
if st ~= 'created' and st ~= 'authorized' then return 'existing' end
redis.call('HSET', KEYS[1], 'status', 'verified', 'txn', ARGV[1], 'record', ARGV[2], 'updated_at', ARGV[3])
if redis.call('GET', KEYS[2]) == ARGV[4] then redis.call('DEL', KEYS[2]) end
return 'claimed'
`)

var failScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'status', 'failed', 'failure_reason', ARGV[1], 'updated_at', ARGV[2])
if redis.call('GET', KEYS[2]) == ARGV[3] then redis.call('DEL', KEYS[2]) end
return 1
`)

// SessionStore is a payment.SessionRepository. Each session is a hash whose data
// field is written once; status and verification fields change through scripts so
// that Claim is a single atomic step.
type SessionStore struct {
	client redis.UniversalClient
}

func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(gatewayOrderID string) string { return fmt.Sprintf("session:gw:%s", gatewayOrderID) }

func openKey(buyerID, fingerprint string) string {
	return fmt.Sprintf("session:open:%s:%s", buyerID, fingerprint)
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.GatewayOrderID)
	}
	ok, err := s.client.SetNX(ctx, openKey(sess.BuyerID, sess.Fingerprint), sess.GatewayOrderID, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return domain.ErrSessionExists
	}

	key := sessionKey(sess.GatewayOrderID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		fieldData, data,
		fieldStatus, string(sess.Status),
		fieldUpdated, sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.ExpireAt(ctx, key, sess.ExpiresAt.Add(sessionRetention))
	if _, err := pipe.Exec(ctx); err != nil {
		s.client.Del(context.WithoutCancel(ctx), openKey(sess.BuyerID, sess.Fingerprint))
		return fmt.Errorf("redis session write failed: %w", err)
	}
	return nil
}

func (s *SessionStore) FindOpen(ctx context.Context, buyerID, fingerprint string, now time.Time) (*domain.Session, error) {
	gw, err := s.client.Get(ctx, openKey(buyerID, fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	sess, err := s.GetByGatewayOrderID(ctx, gw)
	if err != nil {
		return nil, err
	}
	if !sess.Open(now) {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (s *SessionStore) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(gatewayOrderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(fields) == 0 || fields[fieldData] == "" {
		return nil, domain.ErrSessionNotFound
	}
	return decodeSession(fields)
}

func (s *SessionStore) Claim(ctx context.Context, gatewayOrderID string, rec domain.Record, now time.Time) (*domain.Session, bool, error) {
	current, err := s.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, false, err
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record failed: %w", err)
	}
	outcome, err := claimScript.Run(ctx, s.client,
		[]string{sessionKey(gatewayOrderID), openKey(current.BuyerID, current.Fingerprint)},
		rec.TransactionID, recJSON, now.UTC().Format(time.RFC3339Nano), gatewayOrderID,
	).Text()
	if err != nil {
		return nil, false, fmt.Errorf("redis claim failed: %w", err)
	}
	if outcome == "unknown" {
		return nil, false, domain.ErrSessionNotFound
	}
	stored, err := s.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, false, err
	}
	return stored, outcome == "claimed", nil
}

func (s *SessionStore) MarkFailed(ctx context.Context, gatewayOrderID, reason string, now time.Time) error {
	current, err := s.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}
	n, err := failScript.Run(ctx, s.client,
		[]string{sessionKey(gatewayOrderID), openKey(current.BuyerID, current.Fingerprint)},
		reason, now.UTC().Format(time.RFC3339Nano), gatewayOrderID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis mark failed: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func decodeSession(fields map[string]string) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal([]byte(fields[fieldData]), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err)
	}
	sess.Status = domain.SessionStatus(fields[fieldStatus])
	sess.TransactionID = fields[fieldTxn]
	sess.FailureReason = fields[fieldReason]
	if raw := fields[fieldRecord]; raw != "" {
		var rec domain.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record failed: %w", err)
		}
		sess.Record = &rec
	}
	if raw := fields[fieldUpdated]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			sess.UpdatedAt = t
		}
	}
	return &sess, nil
}
