package activity

import (
	"context"

	"github.com/tahanlog/gastoflow/external/transcribe"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
	"go.uber.org/zap"
)

// Classifier is the external AI service extracting structured fields
// from a receipt image.
type Classifier interface {
	Classify(ctx context.Context, imageUrl string, description string) (*model.ExtractedFields, error)
}

// Transcriber is the external speech-to-text service.
type Transcriber interface {
	Transcribe(ctx context.Context, audioUrl string) (*transcribe.Transcription, error)
}

type ResolveTripInput struct {
	TripId string `json:"trip_id"`
}

type ResolveTripOutput struct {
	TripId   string `json:"trip_id"`
	DriverId string `json:"driver_id"`
}

type CreateBoletaInput struct {
	TripId   string `json:"trip_id"`
	ImageUrl string `json:"image_url"`
	DriverId string `json:"driver_id"`
}

type CreateBoletaOutput struct {
	BoletaId int64 `json:"boleta_id"`
}

type TranscribeAudioInput struct {
	BoletaId int64  `json:"boleta_id"`
	AudioUrl string `json:"audio_url"`
}

type TranscribeAudioOutput struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type ClassifyReceiptInput struct {
	BoletaId    int64  `json:"boleta_id"`
	ImageUrl    string `json:"image_url"`
	Description string `json:"description,omitempty"`
}

type PersistExtractionInput struct {
	BoletaId int64                `json:"boleta_id"`
	Fields   model.ExtractedFields `json:"fields"`
	Metadata model.BoletaMetadata  `json:"metadata"`
}

type FlagReviewInput struct {
	BoletaId int64                `json:"boleta_id"`
	Metadata model.BoletaMetadata `json:"metadata"`
}

// ReceiptActivities are the executors backing the receipt ingestion
// workflow.
type ReceiptActivities struct {
	store       persistence.BoletaStore
	classifier  Classifier
	transcriber Transcriber
}

func NewReceiptActivities(store persistence.BoletaStore, classifier Classifier, transcriber Transcriber) *ReceiptActivities {
	return &ReceiptActivities{
		store:       store,
		classifier:  classifier,
		transcriber: transcriber,
	}
}

func (a *ReceiptActivities) Register(registry *Registry) {
	registry.Register(ACTIVITY_RESOLVE_TRIP, typed(a.ResolveTrip))
	registry.Register(ACTIVITY_CREATE_BOLETA, typed(a.CreateBoleta))
	registry.Register(ACTIVITY_TRANSCRIBE_AUDIO, typed(a.TranscribeAudio))
	registry.Register(ACTIVITY_CLASSIFY_RECEIPT, typed(a.ClassifyReceipt))
	registry.Register(ACTIVITY_PERSIST_EXTRACTION, typed(a.PersistExtraction))
	registry.Register(ACTIVITY_FLAG_REVIEW, typed(a.FlagReview))
}

func (a *ReceiptActivities) ResolveTrip(ctx context.Context, input ResolveTripInput) (*ResolveTripOutput, error) {
	trip, err := a.store.GetTrip(ctx, input.TripId)
	if err != nil {
		return nil, err
	}
	return &ResolveTripOutput{TripId: trip.Id, DriverId: trip.DriverId}, nil
}

func (a *ReceiptActivities) CreateBoleta(ctx context.Context, input CreateBoletaInput) (*CreateBoletaOutput, error) {
	boletaId, err := a.store.InsertBoleta(ctx, &model.Boleta{
		TripId:   input.TripId,
		DriverId: input.DriverId,
		ImageUrl: input.ImageUrl,
		Estado:   model.BOLETA_STATE_CREATED,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("boleta created", zap.Int64("boletaId", boletaId), zap.String("tripId", input.TripId))
	return &CreateBoletaOutput{BoletaId: boletaId}, nil
}

func (a *ReceiptActivities) TranscribeAudio(ctx context.Context, input TranscribeAudioInput) (*TranscribeAudioOutput, error) {
	transcription, err := a.transcriber.Transcribe(ctx, input.AudioUrl)
	if err != nil {
		return nil, err
	}
	logger.Info("audio transcribed", zap.Int64("boletaId", input.BoletaId), zap.String("language", transcription.Language))
	return &TranscribeAudioOutput{
		Text:     transcription.Text,
		Language: transcription.Language,
		Duration: transcription.Duration,
	}, nil
}

// ClassifyReceipt moves the boleta to processing and runs the external
// classifier. The transition tolerates a boleta that is already
// processing so a retried attempt does not trip on its own progress.
func (a *ReceiptActivities) ClassifyReceipt(ctx context.Context, input ClassifyReceiptInput) (*model.ExtractedFields, error) {
	boleta, err := a.store.GetBoleta(ctx, input.BoletaId)
	if err != nil {
		return nil, err
	}
	if boleta.Estado == model.BOLETA_STATE_CREATED {
		if err := a.store.TransitionState(ctx, input.BoletaId, model.BOLETA_STATE_CREATED, model.BOLETA_STATE_PROCESSING); err != nil {
			return nil, err
		}
	}
	return a.classifier.Classify(ctx, input.ImageUrl, input.Description)
}

func (a *ReceiptActivities) PersistExtraction(ctx context.Context, input PersistExtractionInput) (*model.ReceiptIngestionOutput, error) {
	if err := a.store.SaveExtraction(ctx, input.BoletaId, input.Fields, input.Metadata); err != nil {
		return nil, err
	}
	return &model.ReceiptIngestionOutput{
		BoletaId:        input.BoletaId,
		State:           model.BOLETA_STATE_AWAITING_REVIEW,
		ExtractedFields: input.Fields,
		Metadata:        input.Metadata,
	}, nil
}

// FlagReview parks the boleta for human review after a non-critical
// step failed. The workflow completes as a partial success.
func (a *ReceiptActivities) FlagReview(ctx context.Context, input FlagReviewInput) (*model.ReceiptIngestionOutput, error) {
	if err := a.store.MarkForReview(ctx, input.BoletaId, input.Metadata); err != nil {
		return nil, err
	}
	logger.Warn("boleta flagged for review", zap.Int64("boletaId", input.BoletaId), zap.String("error", input.Metadata.Error))
	return &model.ReceiptIngestionOutput{
		BoletaId: input.BoletaId,
		State:    model.BOLETA_STATE_AWAITING_REVIEW,
		Metadata: input.Metadata,
	}, nil
}
