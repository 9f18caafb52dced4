package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tahanlog/gastoflow/engine"
	"github.com/tahanlog/gastoflow/model"
	"github.com/tahanlog/gastoflow/persistence/memory"
	"github.com/tahanlog/gastoflow/workflow"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	eng := engine.NewWorkflowEngine(workflow.Definitions(),
		memory.NewInMemExecutionDao(), memory.NewInMemQueue(), memory.NewInMemDelayQueue())
	server, err := NewServer(0, eng)
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleStartReceiptIngestion(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, server *Server){
		"valid request is accepted": func(t *testing.T, server *Server) {
			rec := doJSON(t, server, http.MethodPost, "/receipts", model.ReceiptIngestionInput{
				TripId:   "trip-1",
				ImageUrl: "https://img/receipt.jpg",
			})
			require.Equal(t, http.StatusAccepted, rec.Code)

			var resp startResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.WorkflowId)
			require.NotEmpty(t, resp.RunId)
			require.Equal(t, "/workflows/"+resp.WorkflowId, resp.StatusUrl)
		},
		"missing trip id rejected": func(t *testing.T, server *Server) {
			rec := doJSON(t, server, http.MethodPost, "/receipts", model.ReceiptIngestionInput{
				ImageUrl: "https://img/receipt.jpg",
			})
			require.Equal(t, http.StatusBadRequest, rec.Code)
		},
		"missing image url rejected": func(t *testing.T, server *Server) {
			rec := doJSON(t, server, http.MethodPost, "/receipts", model.ReceiptIngestionInput{
				TripId: "trip-1",
			})
			require.Equal(t, http.StatusBadRequest, rec.Code)
		},
		"description and audio together rejected": func(t *testing.T, server *Server) {
			rec := doJSON(t, server, http.MethodPost, "/receipts", model.ReceiptIngestionInput{
				TripId:               "trip-1",
				ImageUrl:             "https://img/receipt.jpg",
				ConductorDescription: "peaje",
				AudioUrl:             "https://audio/note.ogg",
			})
			require.Equal(t, http.StatusBadRequest, rec.Code)
		},
		"malformed body rejected": func(t *testing.T, server *Server) {
			req := httptest.NewRequest(http.MethodPost, "/receipts", bytes.NewBufferString("{"))
			rec := httptest.NewRecorder()
			server.Handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, testServer(t))
		})
	}
}

func TestHandleStartExpenseSubmission(t *testing.T) {
	server := testServer(t)

	rec := doJSON(t, server, http.MethodPost, "/expenses", model.ExpenseSubmissionInput{BoletaId: 42})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/expenses", model.ExpenseSubmissionInput{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetWorkflowStatus(t *testing.T) {
	server := testServer(t)

	rec := doJSON(t, server, http.MethodGet, "/workflows/no-such-workflow", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	started := doJSON(t, server, http.MethodPost, "/receipts", model.ReceiptIngestionInput{
		TripId:   "trip-1",
		ImageUrl: "https://img/receipt.jpg",
	})
	require.Equal(t, http.StatusAccepted, started.Code)
	var resp startResponse
	require.NoError(t, json.Unmarshal(started.Body.Bytes(), &resp))

	rec = doJSON(t, server, http.MethodGet, resp.StatusUrl, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status engine.WorkflowStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, model.WORKFLOW_STATUS_RUNNING, status.Status)
	require.Equal(t, model.WORKFLOW_TYPE_RECEIPT_INGESTION, status.Type)
	require.Nil(t, status.CloseTime)
}
