package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	domain "github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/repositories"
)

// ChargeRepository keeps charge records in process memory for local runs and tests.
type ChargeRepository struct {
	mu      sync.RWMutex
	records map[string]domain.ChargeRecord
}

var _ repositories.ChargeRepository = (*ChargeRepository)(nil)

// NewChargeRepository returns an empty in-memory charge repository.
func NewChargeRepository() *ChargeRepository {
	return &ChargeRepository{records: make(map[string]domain.ChargeRecord)}
}

func (r *ChargeRepository) Insert(_ context.Context, record domain.ChargeRecord) error {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return errors.New("charges.insert: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[id]; exists {
		return repositories.NewConflictError("charges.insert")
	}
	r.records[id] = cloneRecord(record)
	return nil
}

func (r *ChargeRepository) Update(_ context.Context, record domain.ChargeRecord) error {
	id := strings.TrimSpace(record.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[id]; !exists {
		return repositories.NewNotFoundError("charges.update")
	}
	r.records[id] = cloneRecord(record)
	return nil
}

func (r *ChargeRepository) FindByID(_ context.Context, chargeID string) (domain.ChargeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[strings.TrimSpace(chargeID)]
	if !ok {
		return domain.ChargeRecord{}, repositories.NewNotFoundError("charges.get")
	}
	return cloneRecord(record), nil
}

func cloneRecord(record domain.ChargeRecord) domain.ChargeRecord {
	out := record
	if record.LineItems != nil {
		out.LineItems = append([]domain.LineItem(nil), record.LineItems...)
	}
	return out
}
