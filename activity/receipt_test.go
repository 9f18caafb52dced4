package activity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tahanlog/gastoflow/external/transcribe"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence/memory"
)

type fakeClassifier struct {
	fields *model.ExtractedFields
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, imageUrl string, description string) (*model.ExtractedFields, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

type fakeTranscriber struct {
	transcription *transcribe.Transcription
	err           error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioUrl string) (*transcribe.Transcription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.transcription, nil
}

func seededStore() *memory.InMemBoletaStore {
	store := memory.NewInMemBoletaStore()
	store.AddTrip(model.Trip{Id: "trip-1", DriverId: "driver-7"})
	store.AddDriver(model.DriverInfo{UserId: "driver-7", OdooId: 55, NombreCompleto: "Juan Pérez"})
	return store
}

func TestReceiptActivities(t *testing.T) {
	ctx := context.Background()

	t.Run("resolve trip", func(t *testing.T) {
		activities := NewReceiptActivities(seededStore(), &fakeClassifier{}, &fakeTranscriber{})
		out, err := activities.ResolveTrip(ctx, ResolveTripInput{TripId: "trip-1"})
		require.NoError(t, err)
		require.Equal(t, "driver-7", out.DriverId)

		_, err = activities.ResolveTrip(ctx, ResolveTripInput{TripId: "missing"})
		require.Error(t, err)
		require.Equal(t, model.ERROR_KIND_NOT_FOUND, model.Classify(err))
	})

	t.Run("create boleta starts in created state", func(t *testing.T) {
		store := seededStore()
		activities := NewReceiptActivities(store, &fakeClassifier{}, &fakeTranscriber{})
		out, err := activities.CreateBoleta(ctx, CreateBoletaInput{
			TripId: "trip-1", ImageUrl: "https://img/r.jpg", DriverId: "driver-7",
		})
		require.NoError(t, err)

		boleta, err := store.GetBoleta(ctx, out.BoletaId)
		require.NoError(t, err)
		require.Equal(t, model.BOLETA_STATE_CREATED, boleta.Estado)
	})

	t.Run("classify transitions to processing", func(t *testing.T) {
		store := seededStore()
		classifier := &fakeClassifier{fields: &model.ExtractedFields{Merchant: "COPEC", Total: 12000, Currency: "CLP"}}
		activities := NewReceiptActivities(store, classifier, &fakeTranscriber{})
		created, err := activities.CreateBoleta(ctx, CreateBoletaInput{TripId: "trip-1", ImageUrl: "u", DriverId: "driver-7"})
		require.NoError(t, err)

		fields, err := activities.ClassifyReceipt(ctx, ClassifyReceiptInput{BoletaId: created.BoletaId, ImageUrl: "u"})
		require.NoError(t, err)
		require.Equal(t, "COPEC", fields.Merchant)

		boleta, err := store.GetBoleta(ctx, created.BoletaId)
		require.NoError(t, err)
		require.Equal(t, model.BOLETA_STATE_PROCESSING, boleta.Estado)

		// a retried attempt finds the boleta already processing and proceeds
		_, err = activities.ClassifyReceipt(ctx, ClassifyReceiptInput{BoletaId: created.BoletaId, ImageUrl: "u"})
		require.NoError(t, err)
		require.Equal(t, 2, classifier.calls)
	})

	t.Run("persist extraction lands awaiting review", func(t *testing.T) {
		store := seededStore()
		activities := NewReceiptActivities(store, &fakeClassifier{}, &fakeTranscriber{})
		created, err := activities.CreateBoleta(ctx, CreateBoletaInput{TripId: "trip-1", ImageUrl: "u", DriverId: "driver-7"})
		require.NoError(t, err)
		require.NoError(t, store.TransitionState(ctx, created.BoletaId, model.BOLETA_STATE_CREATED, model.BOLETA_STATE_PROCESSING))

		out, err := activities.PersistExtraction(ctx, PersistExtractionInput{
			BoletaId: created.BoletaId,
			Fields:   model.ExtractedFields{Merchant: "COPEC", Reference: "F-123", Total: 12000, Currency: "CLP"},
		})
		require.NoError(t, err)
		require.Equal(t, model.BOLETA_STATE_AWAITING_REVIEW, out.State)

		boleta, err := store.GetBoleta(ctx, created.BoletaId)
		require.NoError(t, err)
		require.Equal(t, model.BOLETA_STATE_AWAITING_REVIEW, boleta.Estado)
		require.Equal(t, "F-123", boleta.Referencia)
		require.Equal(t, float64(12000), boleta.Total)
	})

	t.Run("flag review records the failure", func(t *testing.T) {
		store := seededStore()
		activities := NewReceiptActivities(store, &fakeClassifier{}, &fakeTranscriber{})
		created, err := activities.CreateBoleta(ctx, CreateBoletaInput{TripId: "trip-1", ImageUrl: "u", DriverId: "driver-7"})
		require.NoError(t, err)

		out, err := activities.FlagReview(ctx, FlagReviewInput{
			BoletaId: created.BoletaId,
			Metadata: model.BoletaMetadata{Error: "AI analysis failed", ErrorDetails: "classifier returned 500"},
		})
		require.NoError(t, err)
		require.Equal(t, model.BOLETA_STATE_AWAITING_REVIEW, out.State)

		boleta, err := store.GetBoleta(ctx, created.BoletaId)
		require.NoError(t, err)
		require.Equal(t, model.BOLETA_STATE_AWAITING_REVIEW, boleta.Estado)
		require.Equal(t, "AI analysis failed", boleta.Metadata.Error)
	})
}
