package workflow

import (
	"encoding/json"

	"github.com/tahanlog/gastoflow/activity"
	"github.com/tahanlog/gastoflow/model"
)

// ReceiptIngestionDefinition builds the plan for one receipt: resolve
// the trip, create the boleta, transcribe audio when present, classify
// via AI and persist the extraction. Transcription and classification
// failures park the boleta for review instead of failing the workflow.
func ReceiptIngestionDefinition() *Definition {
	return &Definition{
		Type: model.WORKFLOW_TYPE_RECEIPT_INGESTION,
		Plan: func(raw json.RawMessage) ([]Step, error) {
			var input model.ReceiptIngestionInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, model.ValidationError{Message: err.Error()}
			}
			if err := input.Validate(); err != nil {
				return nil, err
			}

			steps := []Step{
				{
					Name:   activity.ACTIVITY_RESOLVE_TRIP,
					Policy: model.ReceiptRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						return activity.ResolveTripInput{TripId: input.TripId}, nil
					},
				},
				{
					Name:   activity.ACTIVITY_CREATE_BOLETA,
					Policy: model.ReceiptRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						trip, err := Decode[activity.ResolveTripOutput](bc.State, activity.ACTIVITY_RESOLVE_TRIP)
						if err != nil {
							return nil, err
						}
						return activity.CreateBoletaInput{
							TripId:   input.TripId,
							ImageUrl: input.ImageUrl,
							DriverId: trip.DriverId,
						}, nil
					},
				},
			}

			if input.AudioUrl != "" {
				steps = append(steps, Step{
					Name:        activity.ACTIVITY_TRANSCRIBE_AUDIO,
					Policy:      model.ReceiptRetryPolicy,
					FailureMode: PARTIAL_SUCCESS,
					Recovery:    flagReviewStep(input, "Audio transcription failed"),
					BuildInput: func(bc BuildContext) (any, error) {
						created, err := Decode[activity.CreateBoletaOutput](bc.State, activity.ACTIVITY_CREATE_BOLETA)
						if err != nil {
							return nil, err
						}
						return activity.TranscribeAudioInput{
							BoletaId: created.BoletaId,
							AudioUrl: input.AudioUrl,
						}, nil
					},
				})
			}

			steps = append(steps,
				Step{
					Name:        activity.ACTIVITY_CLASSIFY_RECEIPT,
					Policy:      model.ReceiptRetryPolicy,
					FailureMode: PARTIAL_SUCCESS,
					Recovery:    flagReviewStep(input, "AI analysis failed"),
					BuildInput: func(bc BuildContext) (any, error) {
						created, err := Decode[activity.CreateBoletaOutput](bc.State, activity.ACTIVITY_CREATE_BOLETA)
						if err != nil {
							return nil, err
						}
						return activity.ClassifyReceiptInput{
							BoletaId:    created.BoletaId,
							ImageUrl:    input.ImageUrl,
							Description: resolvedDescription(input, bc.State),
						}, nil
					},
				},
				Step{
					Name:   activity.ACTIVITY_PERSIST_EXTRACTION,
					Policy: model.ReceiptRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						created, err := Decode[activity.CreateBoletaOutput](bc.State, activity.ACTIVITY_CREATE_BOLETA)
						if err != nil {
							return nil, err
						}
						fields, err := Decode[model.ExtractedFields](bc.State, activity.ACTIVITY_CLASSIFY_RECEIPT)
						if err != nil {
							return nil, err
						}
						return activity.PersistExtractionInput{
							BoletaId: created.BoletaId,
							Fields:   *fields,
							Metadata: ingestionMetadata(input, bc.State, fields.Keywords),
						}, nil
					},
				},
			)
			return steps, nil
		},
		BuildResult: func(raw json.RawMessage, state State) (json.RawMessage, error) {
			if state.Has(activity.ACTIVITY_FLAG_REVIEW) {
				return state[activity.ACTIVITY_FLAG_REVIEW], nil
			}
			return state[activity.ACTIVITY_PERSIST_EXTRACTION], nil
		},
	}
}

// flagReviewStep is the partial-success recovery: annotate the boleta
// with the failure and leave it awaiting review.
func flagReviewStep(input model.ReceiptIngestionInput, label string) *Step {
	return &Step{
		Name:   activity.ACTIVITY_FLAG_REVIEW,
		Policy: model.ReceiptRetryPolicy,
		BuildInput: func(bc BuildContext) (any, error) {
			created, err := Decode[activity.CreateBoletaOutput](bc.State, activity.ACTIVITY_CREATE_BOLETA)
			if err != nil {
				return nil, err
			}
			metadata := ingestionMetadata(input, bc.State, nil)
			metadata.Error = label
			if bc.Failure != nil {
				metadata.ErrorDetails = bc.Failure.Message
			}
			return activity.FlagReviewInput{
				BoletaId: created.BoletaId,
				Metadata: metadata,
			}, nil
		},
	}
}

// resolvedDescription prefers the transcription over the typed
// description. Empty is fine, classification proceeds regardless.
func resolvedDescription(input model.ReceiptIngestionInput, state State) string {
	if transcription, err := Decode[activity.TranscribeAudioOutput](state, activity.ACTIVITY_TRANSCRIBE_AUDIO); err == nil {
		return transcription.Text
	}
	return input.ConductorDescription
}

func ingestionMetadata(input model.ReceiptIngestionInput, state State, keywords []string) model.BoletaMetadata {
	metadata := model.BoletaMetadata{
		AiKeywords: keywords,
	}
	if transcription, err := Decode[activity.TranscribeAudioOutput](state, activity.ACTIVITY_TRANSCRIBE_AUDIO); err == nil {
		metadata.AudioUrl = input.AudioUrl
		metadata.Transcription = transcription.Text
		metadata.TranscriptionLanguage = transcription.Language
		metadata.TranscriptionDuration = transcription.Duration
		metadata.ConductorDescription = transcription.Text
	} else if input.ConductorDescription != "" {
		metadata.ConductorDescription = input.ConductorDescription
	} else if input.AudioUrl != "" {
		metadata.AudioUrl = input.AudioUrl
	}
	return metadata
}
