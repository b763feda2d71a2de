package donations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meauxbility_api/internal/models"
)

// Reservation is the outcome of reserving an idempotency key
type Reservation struct {
	IsNew     bool
	AttemptID string
}

// IdempotencyStore binds a client idempotency key to one attempt id with an
// atomic insert-if-absent.
type IdempotencyStore interface {
	// Reserve stores candidateID for key unless the key is already bound, in
	// which case the existing attempt id is returned.
	Reserve(ctx context.Context, key, candidateID string) (Reservation, error)
}

// GormReservations keeps reservations in the ledger database, relying on the
// primary key of idempotency_reservations.
type GormReservations struct {
	db *gorm.DB
}

func NewGormReservations(db *gorm.DB) *GormReservations {
	return &GormReservations{db: db}
}

func (s *GormReservations) Reserve(ctx context.Context, key, candidateID string) (Reservation, error) {
	db := s.db.WithContext(ctx)

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.IdempotencyReservation{
		IdempotencyKey: key,
		AttemptID:      candidateID,
		CreatedAt:      time.Now().UTC(),
	})
	if res.Error != nil {
		return Reservation{}, fmt.Errorf("failed to reserve idempotency key: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return Reservation{IsNew: true, AttemptID: candidateID}, nil
	}

	var existing models.IdempotencyReservation
	if err := db.Where("idempotency_key = ?", key).First(&existing).Error; err != nil {
		return Reservation{}, fmt.Errorf("failed to load idempotency reservation: %w", err)
	}
	return Reservation{IsNew: false, AttemptID: existing.AttemptID}, nil
}

// RedisReservations keeps reservations in Redis with SETNX. Keys expire after
// ttl; the ledger's unique idempotency_key index still holds after expiry.
type RedisReservations struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisReservations(client *redis.Client, ttl time.Duration) *RedisReservations {
	return &RedisReservations{client: client, ttl: ttl, prefix: "donation:idem:"}
}

func (s *RedisReservations) Reserve(ctx context.Context, key, candidateID string) (Reservation, error) {
	redisKey := s.prefix + key

	// The key can expire between SETNX and GET, so retry a few times.
	for i := 0; i < 3; i++ {
		ok, err := s.client.SetNX(ctx, redisKey, candidateID, s.ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if ok {
			return Reservation{IsNew: true, AttemptID: candidateID}, nil
		}

		existing, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("failed to load idempotency reservation: %w", err)
		}
		return Reservation{IsNew: false, AttemptID: existing}, nil
	}
	return Reservation{}, fmt.Errorf("idempotency key %q kept expiring during reserve", key)
}
