package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
)

var _ persistence.BoletaStore = new(InMemBoletaStore)

// InMemBoletaStore mirrors the conditional-update semantics of the
// postgres store so workflow tests exercise the same transitions.
type InMemBoletaStore struct {
	mu      sync.Mutex
	trips   map[string]model.Trip
	drivers map[string]model.DriverInfo
	boletas map[int64]*model.Boleta
	nextId  int64
}

func NewInMemBoletaStore() *InMemBoletaStore {
	return &InMemBoletaStore{
		trips:   make(map[string]model.Trip),
		drivers: make(map[string]model.DriverInfo),
		boletas: make(map[int64]*model.Boleta),
		nextId:  1,
	}
}

func (s *InMemBoletaStore) AddTrip(trip model.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[trip.Id] = trip
}

func (s *InMemBoletaStore) AddDriver(driver model.DriverInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[driver.UserId] = driver
}

func (s *InMemBoletaStore) GetTrip(ctx context.Context, tripId string) (*model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[tripId]
	if !ok {
		return nil, model.NotFoundError{Entity: "trip", Id: tripId}
	}
	return &trip, nil
}

func (s *InMemBoletaStore) GetDriver(ctx context.Context, userId string) (*model.DriverInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	driver, ok := s.drivers[userId]
	if !ok {
		return nil, model.NotFoundError{Entity: "driver", Id: userId}
	}
	return &driver, nil
}

func (s *InMemBoletaStore) InsertBoleta(ctx context.Context, boleta *model.Boleta) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *boleta
	stored.BoletaId = s.nextId
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	s.boletas[stored.BoletaId] = &stored
	s.nextId++
	return stored.BoletaId, nil
}

func (s *InMemBoletaStore) GetBoleta(ctx context.Context, boletaId int64) (*model.Boleta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boleta, ok := s.boletas[boletaId]
	if !ok {
		return nil, model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
	}
	copied := *boleta
	return &copied, nil
}

func (s *InMemBoletaStore) UpdateMetadata(ctx context.Context, boletaId int64, metadata model.BoletaMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boleta, ok := s.boletas[boletaId]
	if !ok {
		return model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
	}
	boleta.Metadata = metadata
	boleta.UpdatedAt = time.Now()
	return nil
}

func (s *InMemBoletaStore) TransitionState(ctx context.Context, boletaId int64, from model.BoletaState, to model.BoletaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boleta, ok := s.boletas[boletaId]
	if !ok {
		return model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
	}
	if boleta.Estado != from {
		return model.BusinessStateError{Message: fmt.Sprintf("boleta %d is not in state %s", boletaId, from)}
	}
	boleta.Estado = to
	boleta.UpdatedAt = time.Now()
	return nil
}

func (s *InMemBoletaStore) SaveExtraction(ctx context.Context, boletaId int64, fields model.ExtractedFields, metadata model.BoletaMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boleta, ok := s.boletas[boletaId]
	if !ok {
		return model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
	}
	if boleta.Estado != model.BOLETA_STATE_PROCESSING {
		return model.BusinessStateError{Message: fmt.Sprintf("boleta %d is not in state %s", boletaId, model.BOLETA_STATE_PROCESSING)}
	}
	boleta.Referencia = fields.Reference
	boleta.RazonSocial = fields.Merchant
	boleta.Date = fields.Date
	boleta.Total = fields.Total
	boleta.Moneda = fields.Currency
	boleta.Descripcion = fields.Description
	boleta.IdentificadorFiscal = fields.TaxId
	boleta.Metadata = metadata
	boleta.Estado = model.BOLETA_STATE_AWAITING_REVIEW
	boleta.UpdatedAt = time.Now()
	return nil
}

func (s *InMemBoletaStore) MarkForReview(ctx context.Context, boletaId int64, metadata model.BoletaMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boleta, ok := s.boletas[boletaId]
	if !ok {
		return model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
	}
	if boleta.Estado == model.BOLETA_STATE_CONFIRMED || boleta.Estado == model.BOLETA_STATE_CANCELLED {
		return model.BusinessStateError{Message: fmt.Sprintf("boleta %d is already %s", boletaId, boleta.Estado)}
	}
	boleta.Estado = model.BOLETA_STATE_AWAITING_REVIEW
	boleta.Metadata = metadata
	boleta.UpdatedAt = time.Now()
	return nil
}

func (s *InMemBoletaStore) ConfirmBoleta(ctx context.Context, boletaId int64, odooExpenseId int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boleta, ok := s.boletas[boletaId]
	if !ok {
		return model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
	}
	if boleta.Estado != model.BOLETA_STATE_AWAITING_REVIEW {
		return model.BusinessStateError{Message: fmt.Sprintf("boleta %d is not in state %s", boletaId, model.BOLETA_STATE_AWAITING_REVIEW)}
	}
	boleta.Estado = model.BOLETA_STATE_CONFIRMED
	boleta.OdooExpenseId = &odooExpenseId
	boleta.UpdatedAt = time.Now()
	return nil
}
