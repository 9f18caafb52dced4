package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence"
	"go.uber.org/zap"
)

type startResponse struct {
	WorkflowId string `json:"workflow_id"`
	RunId      string `json:"run_id"`
	StatusUrl  string `json:"status_url"`
}

func (s *Server) HandleStartReceiptIngestion(w http.ResponseWriter, r *http.Request) {
	var input model.ReceiptIngestionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	if err := input.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	workflowId := fmt.Sprintf("receipt-%s-%d", input.TripId, time.Now().UnixMilli())
	s.startWorkflow(w, r, model.WORKFLOW_TYPE_RECEIPT_INGESTION, workflowId, input)
}

func (s *Server) HandleStartExpenseSubmission(w http.ResponseWriter, r *http.Request) {
	var input model.ExpenseSubmissionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	if err := input.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	workflowId := fmt.Sprintf("expense-%d-%d", input.BoletaId, time.Now().UnixMilli())
	s.startWorkflow(w, r, model.WORKFLOW_TYPE_EXPENSE_SUBMISSION, workflowId, input)
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request, workflowType model.WorkflowType, workflowId string, input any) {
	rawInput, err := json.Marshal(input)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "error encoding workflow input")
		return
	}
	runId, err := s.engine.StartWorkflow(r.Context(), workflowType, workflowId, rawInput)
	if err != nil {
		var duplicate persistence.DuplicateExecutionError
		var validation model.ValidationError
		switch {
		case errors.As(err, &duplicate):
			respondWithError(w, http.StatusConflict, err.Error())
		case errors.As(err, &validation):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error("error starting workflow", zap.String("workflowId", workflowId), zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "error starting workflow")
		}
		return
	}
	respondWithJSON(w, http.StatusAccepted, startResponse{
		WorkflowId: workflowId,
		RunId:      runId,
		StatusUrl:  "/workflows/" + workflowId,
	})
}

func (s *Server) HandleGetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workflowId, ok := vars["workflowId"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "workflowId is required")
		return
	}
	status, err := s.engine.GetStatus(r.Context(), workflowId)
	if err != nil {
		var notFound model.NotFoundError
		if errors.As(err, &notFound) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		logger.Error("error loading workflow status", zap.String("workflowId", workflowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error loading workflow status")
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}
