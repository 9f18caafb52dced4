package model

import (
	"fmt"
	"time"
)

type BoletaState string

const (
	BOLETA_STATE_CREATED         BoletaState = "created"
	BOLETA_STATE_PROCESSING      BoletaState = "processing"
	BOLETA_STATE_AWAITING_REVIEW BoletaState = "awaiting_review"
	BOLETA_STATE_CONFIRMED       BoletaState = "confirmed"
	BOLETA_STATE_CANCELLED       BoletaState = "cancelled"
)

// BoletaMetadata is the free-form annotation block on a boleta. Fields
// are filled in by the ingestion workflow as steps succeed or fail.
type BoletaMetadata struct {
	AudioUrl              string   `json:"audio_url,omitempty"`
	Transcription         string   `json:"transcription,omitempty"`
	TranscriptionLanguage string   `json:"transcription_language,omitempty"`
	TranscriptionDuration float64  `json:"transcription_duration,omitempty"`
	ConductorDescription  string   `json:"conductor_description,omitempty"`
	AiKeywords            []string `json:"ai_keywords,omitempty"`
	Error                 string   `json:"error,omitempty"`
	ErrorDetails          string   `json:"error_details,omitempty"`
}

func (m BoletaMetadata) Empty() bool {
	return len(m.AiKeywords) == 0 &&
		m.AudioUrl == "" && m.Transcription == "" && m.TranscriptionLanguage == "" &&
		m.TranscriptionDuration == 0 && m.ConductorDescription == "" &&
		m.Error == "" && m.ErrorDetails == ""
}

// ExtractedFields are the values pulled off the receipt image by the
// AI classifier.
type ExtractedFields struct {
	Merchant    string   `json:"merchant,omitempty"`
	Reference   string   `json:"reference,omitempty"`
	Date        string   `json:"date,omitempty"`
	Total       float64  `json:"total,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Description string   `json:"description,omitempty"`
	TaxId       string   `json:"tax_id,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Boleta is the receipt record produced by the ingestion workflow and
// consumed by the submission workflow.
type Boleta struct {
	BoletaId            int64          `json:"boleta_id"`
	TripId              string         `json:"trip_id"`
	DriverId            string         `json:"driver_id"`
	ImageUrl            string         `json:"url"`
	Estado              BoletaState    `json:"estado"`
	Referencia          string         `json:"referencia,omitempty"`
	RazonSocial         string         `json:"razon_social,omitempty"`
	Date                string         `json:"date,omitempty"`
	Total               float64        `json:"total,omitempty"`
	Moneda              string         `json:"moneda,omitempty"`
	Descripcion         string         `json:"descripcion,omitempty"`
	IdentificadorFiscal string         `json:"identificador_fiscal,omitempty"`
	OdooExpenseId       *int64         `json:"odoo_expense_id,omitempty"`
	Metadata            BoletaMetadata `json:"metadata,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type Trip struct {
	Id       string `json:"id"`
	DriverId string `json:"driver_id"`
}

type DriverInfo struct {
	UserId         string `json:"user_id"`
	OdooId         int    `json:"odoo_id"`
	NombreCompleto string `json:"nombre_completo"`
}

type ReceiptIngestionInput struct {
	TripId               string `json:"trip_id"`
	ImageUrl             string `json:"image_url"`
	ConductorDescription string `json:"conductor_description,omitempty"`
	AudioUrl             string `json:"audio_url,omitempty"`
}

func (in ReceiptIngestionInput) Validate() error {
	if in.TripId == "" {
		return ValidationError{Message: "trip_id is required"}
	}
	if in.ImageUrl == "" {
		return ValidationError{Message: "image_url is required"}
	}
	if in.ConductorDescription != "" && in.AudioUrl != "" {
		return ValidationError{Message: "conductor_description and audio_url are mutually exclusive"}
	}
	return nil
}

type ReceiptIngestionOutput struct {
	BoletaId        int64           `json:"boleta_id"`
	State           BoletaState     `json:"state"`
	ExtractedFields ExtractedFields `json:"extracted_fields"`
	Metadata        BoletaMetadata  `json:"metadata"`
}

type ExpenseSubmissionInput struct {
	BoletaId   int64 `json:"boleta_id"`
	CategoryId int   `json:"category_id,omitempty"`
}

func (in ExpenseSubmissionInput) Validate() error {
	if in.BoletaId == 0 {
		return ValidationError{Message: "boleta_id is required"}
	}
	return nil
}

type ExpenseSubmissionOutput struct {
	BoletaId      int64   `json:"boleta_id"`
	OdooExpenseId int64   `json:"odoo_expense_id"`
	EmployeeId    int     `json:"employee_id"`
	CategoryId    int     `json:"category_id"`
	Total         float64 `json:"total"`
	Currency      string  `json:"currency"`
}

func FormatBoletaId(id int64) string {
	return fmt.Sprintf("%d", id)
}
