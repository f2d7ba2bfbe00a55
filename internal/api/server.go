// Package api exposes the ledger, transfer and template operations over a
// JSON REST interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/observability"
	"dtl-ledger-indexer/internal/storage"
	"dtl-ledger-indexer/internal/template"
	"dtl-ledger-indexer/internal/transfer"
)

// OwnerHeader carries the caller's wallet address for template operations.
const OwnerHeader = "X-Wallet-Address"

const (
	defaultLimit = 50
	maxLimit     = 1000
	timeout      = 15 * time.Second
)

// Request errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrMissingOwner = errors.New("missing " + OwnerHeader + " header")
)

// Server serves the REST API.
type Server struct {
	ledger    *ledger.Store
	engine    *transfer.Engine
	templates *template.Service
	logger    *log.Logger
	metrics   *observability.Metrics
}

// Options configures a Server.
type Options struct {
	Ledger    *ledger.Store
	Engine    *transfer.Engine
	Templates *template.Service
	Logger    *log.Logger
	Metrics   *observability.Metrics
}

// NewServer creates an API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		ledger:    opts.Ledger,
		engine:    opts.Engine,
		templates: opts.Templates,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// Router returns the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/ledger/stats", s.statsHandler).Methods(http.MethodGet)
	a.HandleFunc("/ledger/utxos", s.utxosHandler).Methods(http.MethodGet)
	a.HandleFunc("/ledger/mint", s.mintHandler).Methods(http.MethodPost)

	a.HandleFunc("/accounts", s.accountsHandler).Methods(http.MethodGet)
	a.HandleFunc("/accounts", s.createAccountHandler).Methods(http.MethodPost)
	a.HandleFunc("/accounts/{address}", s.accountHandler).Methods(http.MethodGet)
	a.HandleFunc("/accounts/{address}/balance", s.balanceHandler).Methods(http.MethodGet)
	a.HandleFunc("/accounts/{address}/transactions", s.accountTransactionsHandler).Methods(http.MethodGet)
	a.HandleFunc("/accounts/{address}/utxos", s.accountUTXOsHandler).Methods(http.MethodGet)

	a.HandleFunc("/transactions", s.transactionsHandler).Methods(http.MethodGet)
	a.HandleFunc("/transactions/transfer", s.transferHandler).Methods(http.MethodPost)
	a.HandleFunc("/transactions/{id:[0-9]+}", s.transactionHandler).Methods(http.MethodGet)

	a.HandleFunc("/templates", s.listTemplatesHandler).Methods(http.MethodGet)
	a.HandleFunc("/templates", s.createTemplateHandler).Methods(http.MethodPost)
	a.HandleFunc("/templates/{id}", s.getTemplateHandler).Methods(http.MethodGet)
	a.HandleFunc("/templates/{id}", s.updateTemplateHandler).Methods(http.MethodPut)
	a.HandleFunc("/templates/{id}", s.deleteTemplateHandler).Methods(http.MethodDelete)

	a.HandleFunc("/nodes", s.nodesHandler).Methods(http.MethodGet)
	a.HandleFunc("/nodes/{name}/ledger", s.nodeLedgerHandler).Methods(http.MethodGet)

	return r
}

// NewHTTPServer wraps handler with the API's read and write timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

// Shutdown stops srv, waiting at most grace for in-flight requests.
func Shutdown(srv *http.Server, grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument logs every request and counts it by route template and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RecordHTTPRequest(route, rec.status)
		s.logger.Printf("httpreq from %s %s %s status=%d in %v",
			r.RemoteAddr, r.Method, r.RequestURI, rec.status, time.Since(start))
	})
}

// errorBody is the JSON body of every failed request.
type errorBody struct {
	Error     string `json:"error"`
	Available string `json:"available,omitempty"`
	Requested string `json:"requested,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json;charset=utf8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps ledger error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		status = http.StatusBadRequest
		body.Available = insufficient.Available.String()
		body.Requested = insufficient.Requested.String()
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrMissingOwner):
		status = http.StatusUnauthorized
	case errors.Is(err, ledger.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyExists), errors.Is(err, ledger.ErrAlreadyDeleted):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Printf("internal error: %v", err)
	}
	writeJSON(w, status, body)
}
