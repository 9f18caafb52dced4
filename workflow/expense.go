package workflow

import (
	"encoding/json"

	"github.com/tahanlog/gastoflow/activity"
	"github.com/tahanlog/gastoflow/external/odoo"
	"github.com/tahanlog/gastoflow/model"
)

// ExpenseSubmissionDefinition builds the plan for posting one boleta
// to the accounting system. Every lookup failure here is a business
// condition the caller must fix, so most steps short-circuit to a
// permanent failure; only the submission itself is retried hard.
func ExpenseSubmissionDefinition() *Definition {
	return &Definition{
		Type: model.WORKFLOW_TYPE_EXPENSE_SUBMISSION,
		Plan: func(raw json.RawMessage) ([]Step, error) {
			var input model.ExpenseSubmissionInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, model.ValidationError{Message: err.Error()}
			}
			if err := input.Validate(); err != nil {
				return nil, err
			}

			return []Step{
				{
					Name:   activity.ACTIVITY_LOAD_BOLETA,
					Policy: model.ReceiptRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						return activity.LoadBoletaInput{BoletaId: input.BoletaId}, nil
					},
				},
				{
					Name:   activity.ACTIVITY_RESOLVE_EMPLOYEE,
					Policy: model.ReceiptRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						loaded, err := Decode[activity.LoadBoletaOutput](bc.State, activity.ACTIVITY_LOAD_BOLETA)
						if err != nil {
							return nil, err
						}
						return activity.ResolveEmployeeInput{DriverId: loaded.Boleta.DriverId}, nil
					},
				},
				{
					Name:   activity.ACTIVITY_RESOLVE_CATEGORY,
					Policy: model.ReceiptRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						loaded, err := Decode[activity.LoadBoletaOutput](bc.State, activity.ACTIVITY_LOAD_BOLETA)
						if err != nil {
							return nil, err
						}
						return activity.ResolveCategoryInput{
							CategoryId:  input.CategoryId,
							Descripcion: loaded.Boleta.Descripcion,
							Referencia:  loaded.Boleta.Referencia,
							AiKeywords:  loaded.Boleta.Metadata.AiKeywords,
						}, nil
					},
				},
				{
					Name:   activity.ACTIVITY_PREPARE_PAYLOAD,
					Policy: model.ReceiptRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						loaded, err := Decode[activity.LoadBoletaOutput](bc.State, activity.ACTIVITY_LOAD_BOLETA)
						if err != nil {
							return nil, err
						}
						employee, err := Decode[activity.ResolveEmployeeOutput](bc.State, activity.ACTIVITY_RESOLVE_EMPLOYEE)
						if err != nil {
							return nil, err
						}
						category, err := Decode[activity.ResolveCategoryOutput](bc.State, activity.ACTIVITY_RESOLVE_CATEGORY)
						if err != nil {
							return nil, err
						}
						return activity.PreparePayloadInput{
							Boleta:     loaded.Boleta,
							EmployeeId: employee.EmployeeId,
							CategoryId: category.CategoryId,
						}, nil
					},
				},
				{
					Name:   activity.ACTIVITY_SUBMIT_EXPENSE,
					Policy: model.SubmissionRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						payload, err := Decode[odoo.ExpenseData](bc.State, activity.ACTIVITY_PREPARE_PAYLOAD)
						if err != nil {
							return nil, err
						}
						return activity.SubmitExpenseInput{Payload: *payload}, nil
					},
				},
				{
					Name:   activity.ACTIVITY_CONFIRM_BOLETA,
					Policy: model.SubmissionRetryPolicy,
					BuildInput: func(bc BuildContext) (any, error) {
						submitted, err := Decode[activity.SubmitExpenseOutput](bc.State, activity.ACTIVITY_SUBMIT_EXPENSE)
						if err != nil {
							return nil, err
						}
						return activity.ConfirmBoletaInput{
							BoletaId:      input.BoletaId,
							OdooExpenseId: submitted.OdooExpenseId,
						}, nil
					},
				},
			}, nil
		},
		BuildResult: func(raw json.RawMessage, state State) (json.RawMessage, error) {
			var input model.ExpenseSubmissionInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, err
			}
			loaded, err := Decode[activity.LoadBoletaOutput](state, activity.ACTIVITY_LOAD_BOLETA)
			if err != nil {
				return nil, err
			}
			employee, err := Decode[activity.ResolveEmployeeOutput](state, activity.ACTIVITY_RESOLVE_EMPLOYEE)
			if err != nil {
				return nil, err
			}
			category, err := Decode[activity.ResolveCategoryOutput](state, activity.ACTIVITY_RESOLVE_CATEGORY)
			if err != nil {
				return nil, err
			}
			submitted, err := Decode[activity.SubmitExpenseOutput](state, activity.ACTIVITY_SUBMIT_EXPENSE)
			if err != nil {
				return nil, err
			}
			return json.Marshal(model.ExpenseSubmissionOutput{
				BoletaId:      input.BoletaId,
				OdooExpenseId: submitted.OdooExpenseId,
				EmployeeId:    employee.EmployeeId,
				CategoryId:    category.CategoryId,
				Total:         loaded.Boleta.Total,
				Currency:      loaded.Boleta.Moneda,
			})
		},
	}
}
