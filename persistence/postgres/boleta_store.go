package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
)

type Config struct {
	DSN string
}

var _ persistence.BoletaStore = new(boletaStore)

// boletaStore owns the trips, drivers_info and boletas tables. All
// state transitions are conditional updates so concurrent workflows
// can not clobber each other.
type boletaStore struct {
	pool *pgxpool.Pool
}

func NewBoletaStore(ctx context.Context, conf Config) (*boletaStore, error) {
	pool, err := pgxpool.New(ctx, conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &boletaStore{pool: pool}, nil
}

func (s *boletaStore) Close() {
	s.pool.Close()
}

func (s *boletaStore) GetTrip(ctx context.Context, tripId string) (*model.Trip, error) {
	var trip model.Trip
	err := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(driver_id, '') FROM trips WHERE id = $1`,
		tripId).Scan(&trip.Id, &trip.DriverId)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFoundError{Entity: "trip", Id: tripId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return &trip, nil
}

func (s *boletaStore) GetDriver(ctx context.Context, userId string) (*model.DriverInfo, error) {
	var driver model.DriverInfo
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, COALESCE(odoo_id, 0), COALESCE(nombre_completo, '')
		 FROM drivers_info WHERE user_id = $1`,
		userId).Scan(&driver.UserId, &driver.OdooId, &driver.NombreCompleto)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFoundError{Entity: "driver", Id: userId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return &driver, nil
}

func (s *boletaStore) InsertBoleta(ctx context.Context, boleta *model.Boleta) (int64, error) {
	metadata, err := json.Marshal(boleta.Metadata)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO boletas (trip_id, user_id, url, estado, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 RETURNING boleta_id`,
		boleta.TripId, boleta.DriverId, boleta.ImageUrl, string(boleta.Estado), metadata).Scan(&id)
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return id, nil
}

func (s *boletaStore) GetBoleta(ctx context.Context, boletaId int64) (*model.Boleta, error) {
	var boleta model.Boleta
	var metadata []byte
	err := s.pool.QueryRow(ctx,
		`SELECT b.boleta_id, b.trip_id, COALESCE(t.driver_id, ''), b.url, b.estado,
		        COALESCE(b.referencia, ''), COALESCE(b.razon_social, ''), COALESCE(b.date, ''),
		        COALESCE(b.total, 0), COALESCE(b.moneda, ''), COALESCE(b.descripcion, ''),
		        COALESCE(b.identificador_fiscal, ''), b.odoo_expense_id,
		        COALESCE(b.metadata, '{}'::jsonb), b.created_at, b.updated_at
		 FROM boletas b
		 JOIN trips t ON t.id = b.trip_id
		 WHERE b.boleta_id = $1`,
		boletaId).Scan(&boleta.BoletaId, &boleta.TripId, &boleta.DriverId, &boleta.ImageUrl,
		&boleta.Estado, &boleta.Referencia, &boleta.RazonSocial, &boleta.Date, &boleta.Total,
		&boleta.Moneda, &boleta.Descripcion, &boleta.IdentificadorFiscal, &boleta.OdooExpenseId,
		&metadata, &boleta.CreatedAt, &boleta.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if err := json.Unmarshal(metadata, &boleta.Metadata); err != nil {
		return nil, err
	}
	return &boleta, nil
}

func (s *boletaStore) UpdateMetadata(ctx context.Context, boletaId int64, metadata model.BoletaMetadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE boletas SET metadata = $2, updated_at = now() WHERE boleta_id = $1`,
		boletaId, data)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
	}
	return nil
}

func (s *boletaStore) TransitionState(ctx context.Context, boletaId int64, from model.BoletaState, to model.BoletaState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE boletas SET estado = $3, updated_at = now()
		 WHERE boleta_id = $1 AND estado = $2`,
		boletaId, string(from), string(to))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return model.BusinessStateError{
			Message: fmt.Sprintf("boleta %d is not in state %s", boletaId, from),
		}
	}
	return nil
}

func (s *boletaStore) SaveExtraction(ctx context.Context, boletaId int64, fields model.ExtractedFields, metadata model.BoletaMetadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE boletas
		 SET referencia = $2, razon_social = $3, date = $4, total = $5, moneda = $6,
		     descripcion = $7, identificador_fiscal = $8, metadata = $9,
		     estado = $10, updated_at = now()
		 WHERE boleta_id = $1 AND estado = $11`,
		boletaId, fields.Reference, fields.Merchant, fields.Date, fields.Total,
		fields.Currency, fields.Description, fields.TaxId, data,
		string(model.BOLETA_STATE_AWAITING_REVIEW), string(model.BOLETA_STATE_PROCESSING))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return model.BusinessStateError{
			Message: fmt.Sprintf("boleta %d is not in state %s", boletaId, model.BOLETA_STATE_PROCESSING),
		}
	}
	return nil
}

func (s *boletaStore) MarkForReview(ctx context.Context, boletaId int64, metadata model.BoletaMetadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE boletas SET estado = $2, metadata = $3, updated_at = now()
		 WHERE boleta_id = $1 AND estado NOT IN ($4, $5)`,
		boletaId, string(model.BOLETA_STATE_AWAITING_REVIEW), data,
		string(model.BOLETA_STATE_CONFIRMED), string(model.BOLETA_STATE_CANCELLED))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		var estado string
		err := s.pool.QueryRow(ctx,
			`SELECT estado FROM boletas WHERE boleta_id = $1`, boletaId).Scan(&estado)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NotFoundError{Entity: "boleta", Id: model.FormatBoletaId(boletaId)}
		}
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		return model.BusinessStateError{
			Message: fmt.Sprintf("boleta %d is already %s", boletaId, estado),
		}
	}
	return nil
}

func (s *boletaStore) ConfirmBoleta(ctx context.Context, boletaId int64, odooExpenseId int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE boletas SET estado = $2, odoo_expense_id = $3, updated_at = now()
		 WHERE boleta_id = $1 AND estado = $4`,
		boletaId, string(model.BOLETA_STATE_CONFIRMED), odooExpenseId,
		string(model.BOLETA_STATE_AWAITING_REVIEW))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return model.BusinessStateError{
			Message: fmt.Sprintf("boleta %d is not in state %s", boletaId, model.BOLETA_STATE_AWAITING_REVIEW),
		}
	}
	return nil
}
