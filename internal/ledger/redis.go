package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Values stored under a ledger key. The reservation lease is the key TTL, so
// an abandoned reservation simply disappears.
type redisEntry struct {
	State      domain.IdempotencyState `json:"state"`
	Token      string                  `json:"token,omitempty"`
	ReservedAt time.Time               `json:"reserved_at"`
	AppliedAt  *time.Time              `json:"applied_at,omitempty"`
	Result     *domain.ResultSnapshot  `json:"result,omitempty"`
}

// Replaces the value only while it still holds the caller's reservation.
var commitScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisLedger struct {
	client    redis.UniversalClient
	lease     time.Duration
	retention time.Duration
}

func NewRedisLedger(client redis.UniversalClient, lease, retention time.Duration) *RedisLedger {
	return &RedisLedger{client: client, lease: lease, retention: retention}
}

func (l *RedisLedger) CheckAndReserve(ctx context.Context, key domain.IdempotencyKey) (Reservation, error) {
	token := uuid.NewString()
	value, err := json.Marshal(redisEntry{State: domain.IdempotencyReserved, Token: token, ReservedAt: time.Now().UTC()})
	if err != nil {
		return Reservation{}, err
	}

	ok, err := l.client.SetNX(ctx, ledgerKey(key), value, l.lease).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve %s: %w", key, err)
	}
	if ok {
		return Reservation{Key: key, Token: string(value)}, nil
	}

	entry, _, err := l.load(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Reservation{}, domain.EventInFlight(key)
		}
		return Reservation{}, err
	}
	if entry.State == domain.IdempotencyApplied && entry.Result != nil {
		return Reservation{Key: key, Applied: entry.Result}, nil
	}
	return Reservation{}, domain.EventInFlight(key)
}

// The reservation token handed to callers is the exact stored value, which
// lets the scripts compare with a plain GET.
func (l *RedisLedger) Commit(ctx context.Context, r Reservation, result domain.ResultSnapshot) error {
	var held redisEntry
	if err := json.Unmarshal([]byte(r.Token), &held); err != nil {
		return ErrReservationLost
	}
	now := time.Now().UTC()
	value, err := json.Marshal(redisEntry{
		State:      domain.IdempotencyApplied,
		ReservedAt: held.ReservedAt,
		AppliedAt:  &now,
		Result:     &result,
	})
	if err != nil {
		return err
	}
	n, err := commitScript.Run(ctx, l.client, []string{ledgerKey(r.Key)}, r.Token, value, l.retention.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("commit %s: %w", r.Key, err)
	}
	if n == 0 {
		return ErrReservationLost
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, r Reservation) error {
	n, err := releaseScript.Run(ctx, l.client, []string{ledgerKey(r.Key)}, r.Token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", r.Key, err)
	}
	if n == 0 {
		return ErrReservationLost
	}
	return nil
}

func (l *RedisLedger) Get(ctx context.Context, key domain.IdempotencyKey) (*domain.IdempotencyRecord, error) {
	entry, raw, err := l.load(ctx, key)
	if err != nil {
		return nil, err
	}
	rec := &domain.IdempotencyRecord{
		Key:        key,
		State:      entry.State,
		ReservedAt: entry.ReservedAt,
		AppliedAt:  entry.AppliedAt,
		Result:     entry.Result,
	}
	if entry.State == domain.IdempotencyReserved {
		rec.ReservationToken = raw
	}
	return rec, nil
}

// Purge is a no-op: applied entries carry the retention period as their TTL.
func (l *RedisLedger) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// load also returns the raw value, which is the token of a reservation.
func (l *RedisLedger) load(ctx context.Context, key domain.IdempotencyKey) (*redisEntry, string, error) {
	data, err := l.client.Get(ctx, ledgerKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", domain.NotFound("idempotency record", key.String())
		}
		return nil, "", err
	}
	var entry redisEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, "", fmt.Errorf("decode ledger entry %s: %w", key, err)
	}
	return &entry, data, nil
}

func ledgerKey(key domain.IdempotencyKey) string {
	return fmt.Sprintf("idem:%s:%s", key.Source, key.EventID)
}

var _ Ledger = (*RedisLedger)(nil)
