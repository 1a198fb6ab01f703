package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

type ReservationRepository struct {
	mu    sync.Mutex
	items map[string]*domain.Reservation
}

func NewReservationRepository() *ReservationRepository {
	return &ReservationRepository{items: make(map[string]*domain.Reservation)}
}

func (r *ReservationRepository) Insert(_ context.Context, res *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[res.Token] = res.Clone()
	return nil
}

func (r *ReservationRepository) Get(_ context.Context, token string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.items[token]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return res.Clone(), nil
}

func (r *ReservationRepository) Transition(_ context.Context, token string, from []domain.ReservationStatus, next domain.ReservationStatus, now time.Time) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.items[token]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	if !slices.Contains(from, res.Status) {
		return nil, domain.ErrReservationClosed
	}
	res.Status = next
	res.UpdatedAt = now.UTC()
	return res.Clone(), nil
}

func (r *ReservationRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Reservation
	for _, res := range r.items {
		if res.IsExpired(now) {
			out = append(out, res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
