package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tahanlog/gastoflow/external/odoo"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
	"go.uber.org/zap"
)

// Accounting is the external accounting system receiving expenses.
type Accounting interface {
	CreateExpense(ctx context.Context, expense odoo.ExpenseData) (int64, error)
}

// CategoryResolver matches an expense description to a category.
type CategoryResolver interface {
	Match(description string, aiKeywords []string) *odoo.CategoryMatch
}

type LoadBoletaInput struct {
	BoletaId int64 `json:"boleta_id"`
}

type LoadBoletaOutput struct {
	Boleta model.Boleta `json:"boleta"`
}

type ResolveEmployeeInput struct {
	DriverId string `json:"driver_id"`
}

type ResolveEmployeeOutput struct {
	EmployeeId     int    `json:"employee_id"`
	NombreCompleto string `json:"nombre_completo"`
}

type ResolveCategoryInput struct {
	CategoryId  int      `json:"category_id,omitempty"`
	Descripcion string   `json:"descripcion,omitempty"`
	Referencia  string   `json:"referencia,omitempty"`
	AiKeywords  []string `json:"ai_keywords,omitempty"`
}

type ResolveCategoryOutput struct {
	CategoryId int     `json:"category_id"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type PreparePayloadInput struct {
	Boleta     model.Boleta `json:"boleta"`
	EmployeeId int          `json:"employee_id"`
	CategoryId int          `json:"category_id"`
}

type SubmitExpenseInput struct {
	Payload odoo.ExpenseData `json:"payload"`
}

type SubmitExpenseOutput struct {
	OdooExpenseId int64 `json:"odoo_expense_id"`
}

type ConfirmBoletaInput struct {
	BoletaId      int64 `json:"boleta_id"`
	OdooExpenseId int64 `json:"odoo_expense_id"`
}

type ConfirmBoletaOutput struct {
	BoletaId int64 `json:"boleta_id"`
}

// ExpenseActivities are the executors backing the expense submission
// workflow.
type ExpenseActivities struct {
	store      persistence.BoletaStore
	accounting Accounting
	matcher    CategoryResolver
}

func NewExpenseActivities(store persistence.BoletaStore, accounting Accounting, matcher CategoryResolver) *ExpenseActivities {
	return &ExpenseActivities{
		store:      store,
		accounting: accounting,
		matcher:    matcher,
	}
}

func (a *ExpenseActivities) Register(registry *Registry) {
	registry.Register(ACTIVITY_LOAD_BOLETA, typed(a.LoadBoleta))
	registry.Register(ACTIVITY_RESOLVE_EMPLOYEE, typed(a.ResolveEmployee))
	registry.Register(ACTIVITY_RESOLVE_CATEGORY, typed(a.ResolveCategory))
	registry.Register(ACTIVITY_PREPARE_PAYLOAD, typed(a.PreparePayload))
	registry.Register(ACTIVITY_SUBMIT_EXPENSE, typed(a.SubmitExpense))
	registry.Register(ACTIVITY_CONFIRM_BOLETA, typed(a.ConfirmBoleta))
}

// LoadBoleta validates the boleta is reviewable before anything is
// submitted. A state mismatch is permanent, retrying will not change
// business state.
func (a *ExpenseActivities) LoadBoleta(ctx context.Context, input LoadBoletaInput) (*LoadBoletaOutput, error) {
	boleta, err := a.store.GetBoleta(ctx, input.BoletaId)
	if err != nil {
		return nil, err
	}
	if boleta.Estado != model.BOLETA_STATE_AWAITING_REVIEW && boleta.Estado != model.BOLETA_STATE_CONFIRMED {
		return nil, model.BusinessStateError{
			Message: fmt.Sprintf("boleta must be in %s or %s state, current state: %s",
				model.BOLETA_STATE_AWAITING_REVIEW, model.BOLETA_STATE_CONFIRMED, boleta.Estado),
		}
	}
	if boleta.DriverId == "" {
		return nil, model.BusinessStateError{
			Message: fmt.Sprintf("trip %s has no assigned driver", boleta.TripId),
		}
	}
	return &LoadBoletaOutput{Boleta: *boleta}, nil
}

func (a *ExpenseActivities) ResolveEmployee(ctx context.Context, input ResolveEmployeeInput) (*ResolveEmployeeOutput, error) {
	driver, err := a.store.GetDriver(ctx, input.DriverId)
	if err != nil {
		return nil, err
	}
	if driver.OdooId == 0 {
		return nil, model.BusinessStateError{
			Message: fmt.Sprintf("driver %s has no accounting identity, sync the driver first", input.DriverId),
		}
	}
	logger.Info("driver resolved", zap.String("driver", driver.NombreCompleto), zap.Int("employeeId", driver.OdooId))
	return &ResolveEmployeeOutput{EmployeeId: driver.OdooId, NombreCompleto: driver.NombreCompleto}, nil
}

// ResolveCategory uses the caller-supplied category verbatim when
// present; the matcher is never consulted in that case.
func (a *ExpenseActivities) ResolveCategory(ctx context.Context, input ResolveCategoryInput) (*ResolveCategoryOutput, error) {
	if input.CategoryId != 0 {
		return &ResolveCategoryOutput{CategoryId: input.CategoryId}, nil
	}
	description := input.Descripcion
	if description == "" {
		description = input.Referencia
	}
	match := a.matcher.Match(description, input.AiKeywords)
	if match == nil {
		return nil, model.BusinessStateError{
			Message: fmt.Sprintf("no category could be determined for %q, supply category_id explicitly", description),
		}
	}
	logger.Info("category matched", zap.String("category", match.Name), zap.Float64("confidence", match.Confidence))
	return &ResolveCategoryOutput{
		CategoryId: match.OdooId,
		Name:       match.Name,
		Confidence: match.Confidence,
	}, nil
}

// PreparePayload is pure: currency mapping, date normalization and
// payload assembly, no external calls.
func (a *ExpenseActivities) PreparePayload(ctx context.Context, input PreparePayloadInput) (*odoo.ExpenseData, error) {
	boleta := input.Boleta
	// a receipt whose currency the extraction left blank is still
	// submittable; CLP is the operating default
	moneda := boleta.Moneda
	if strings.TrimSpace(moneda) == "" {
		moneda = "CLP"
	}
	currencyId, err := odoo.MapCurrency(moneda)
	if err != nil {
		return nil, err
	}
	name := boleta.Descripcion
	if name == "" {
		name = boleta.Referencia
	}
	if name == "" {
		name = "Gasto sin descripción"
	}
	return &odoo.ExpenseData{
		Name:                name,
		Date:                odoo.FormatDate(boleta.Date, time.Now()),
		EmployeeId:          input.EmployeeId,
		ProductId:           input.CategoryId,
		Quantity:            1,
		TotalAmount:         boleta.Total,
		TotalAmountCurrency: boleta.Total,
		PaymentMode:         "own_account",
		CurrencyId:          currencyId,
		CompanyId:           odoo.DefaultCompany.Id,
		Description: fmt.Sprintf("Boleta: %s\nRazón Social: %s\nIdentificador Fiscal: %s",
			orNA(boleta.Referencia), orNA(boleta.RazonSocial), orNA(boleta.IdentificadorFiscal)),
	}, nil
}

func (a *ExpenseActivities) SubmitExpense(ctx context.Context, input SubmitExpenseInput) (*SubmitExpenseOutput, error) {
	expenseId, err := a.accounting.CreateExpense(ctx, input.Payload)
	if err != nil {
		return nil, err
	}
	return &SubmitExpenseOutput{OdooExpenseId: expenseId}, nil
}

// ConfirmBoleta is idempotent: a boleta already confirmed with the
// same accounting id passes, so a retried attempt after a crash does
// not fail the workflow at the finish line.
func (a *ExpenseActivities) ConfirmBoleta(ctx context.Context, input ConfirmBoletaInput) (*ConfirmBoletaOutput, error) {
	err := a.store.ConfirmBoleta(ctx, input.BoletaId, input.OdooExpenseId)
	if err != nil {
		var bsErr model.BusinessStateError
		if errors.As(err, &bsErr) {
			boleta, getErr := a.store.GetBoleta(ctx, input.BoletaId)
			if getErr == nil && boleta.Estado == model.BOLETA_STATE_CONFIRMED &&
				boleta.OdooExpenseId != nil && *boleta.OdooExpenseId == input.OdooExpenseId {
				return &ConfirmBoletaOutput{BoletaId: input.BoletaId}, nil
			}
		}
		return nil, err
	}
	logger.Info("boleta confirmed", zap.Int64("boletaId", input.BoletaId), zap.Int64("expenseId", input.OdooExpenseId))
	return &ConfirmBoletaOutput{BoletaId: input.BoletaId}, nil
}

func orNA(value string) string {
	if value == "" {
		return "N/A"
	}
	return value
}
