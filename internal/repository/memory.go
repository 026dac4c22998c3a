package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
)

// MemoryStore implements both repositories in process, with the same
// conflict rules as the Postgres schema. Used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	bookings  map[string]domain.Booking
	payments  map[string]domain.PaymentTransaction
	customers map[string]string
	methods   map[string]domain.SavedPaymentMethod
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:  make(map[string]domain.Booking),
		payments:  make(map[string]domain.PaymentTransaction),
		customers: make(map[string]string),
		methods:   make(map[string]domain.SavedPaymentMethod),
	}
}

func (s *MemoryStore) Create(_ context.Context, b *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[b.ID]; ok {
		return ErrConflict
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	s.bookings[b.ID] = *b
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) GetPayment(_ context.Context, id string) (*domain.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) GetPaymentByGatewayID(_ context.Context, gatewayTransactionID string) (*domain.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if gatewayTransactionID != "" && p.GatewayTransactionID == gatewayTransactionID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListPayments(_ context.Context, bookingID string) ([]domain.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.PaymentTransaction, 0)
	for _, p := range s.payments {
		if p.BookingID == bookingID {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.Before(payments[j].CreatedAt) })
	return payments, nil
}

func (s *MemoryStore) ApplyOutcome(_ context.Context, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b := out.Booking; b != nil {
		cur, ok := s.bookings[b.ID]
		if !ok {
			return ErrNotFound
		}
		if cur.Version != b.Version {
			return ErrConflict
		}
	}

	// check every payment before writing any
	staged := make(map[string]domain.PaymentTransaction, len(s.payments))
	for id, p := range s.payments {
		staged[id] = p
	}
	now := time.Now().UTC()
	for _, p := range out.Payments {
		cur, exists := staged[p.ID]
		if exists != (p.Version != 0) || (exists && cur.Version != p.Version) {
			return ErrConflict
		}
		next := *p
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		next.Version++
		staged[next.ID] = next
	}
	if err := checkPaymentConstraints(staged); err != nil {
		return err
	}

	for _, p := range out.Payments {
		stored := staged[p.ID]
		p.CreatedAt, p.UpdatedAt, p.Version = stored.CreatedAt, stored.UpdatedAt, stored.Version
	}
	s.payments = staged
	if b := out.Booking; b != nil {
		b.Version++
		b.UpdatedAt = now
		s.bookings[b.ID] = *b
	}
	return nil
}

// checkPaymentConstraints mirrors the unique indexes: one gateway id per
// payment and one active payment per booking.
func checkPaymentConstraints(payments map[string]domain.PaymentTransaction) error {
	gateway := make(map[string]string)
	active := make(map[string]string)
	for id, p := range payments {
		if p.GatewayTransactionID != "" {
			if other, ok := gateway[p.GatewayTransactionID]; ok && other != id {
				return ErrConflict
			}
			gateway[p.GatewayTransactionID] = id
		}
		if p.Status.Active() {
			if other, ok := active[p.BookingID]; ok && other != id {
				return ErrConflict
			}
			active[p.BookingID] = id
		}
	}
	return nil
}

func (s *MemoryStore) GetCustomerID(_ context.Context, clientID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.customers[clientID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) SaveCustomerID(_ context.Context, clientID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[clientID]; !ok {
		s.customers[clientID] = customerID
	}
	return nil
}

func (s *MemoryStore) Save(_ context.Context, m domain.SavedPaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.methods[m.ID]; ok {
		return nil
	}
	m.IsDefault = true
	for _, other := range s.methods {
		if other.ClientID == m.ClientID {
			m.IsDefault = false
			break
		}
	}
	s.methods[m.ID] = m
	return nil
}

func (s *MemoryStore) Get(_ context.Context, clientID, methodID string) (*domain.SavedPaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.methods[methodID]
	if !ok || m.ClientID != clientID {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) List(_ context.Context, clientID string) ([]domain.SavedPaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]domain.SavedPaymentMethod, 0)
	for _, m := range s.methods {
		if m.ClientID == clientID {
			methods = append(methods, m)
		}
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i].CreatedAt.Before(methods[j].CreatedAt) })
	return methods, nil
}

func (s *MemoryStore) Delete(_ context.Context, clientID, methodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.methods[methodID]
	if !ok || m.ClientID != clientID {
		return ErrNotFound
	}
	delete(s.methods, methodID)
	return nil
}

func (s *MemoryStore) SetDefault(_ context.Context, clientID, methodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.methods[methodID]
	if !ok || m.ClientID != clientID {
		return ErrNotFound
	}
	for id, other := range s.methods {
		if other.ClientID == clientID {
			other.IsDefault = id == methodID
			s.methods[id] = other
		}
	}
	return nil
}

var (
	_ BookingRepository       = (*MemoryStore)(nil)
	_ PaymentMethodRepository = (*MemoryStore)(nil)
)
