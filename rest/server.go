package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tahanlog/gastoflow/engine"
	"github.com/tahanlog/gastoflow/logger"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port   int
	engine *engine.WorkflowEngine
}

func NewServer(httpPort int, eng *engine.WorkflowEngine) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		engine: eng,
		Port:   httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/receipts", s.HandleStartReceiptIngestion).Methods(http.MethodPost)
	router.HandleFunc("/expenses", s.HandleStartExpenseSubmission).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{workflowId}", s.HandleGetWorkflowStatus).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
