package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/internal/config"
	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/planner"
)

// Server wires the ledgers and the planner to HTTP routes.
type Server struct {
	receiving  *ledger.ReceivingLedger
	allocation *ledger.AllocationLedger
	planner    *planner.Planner
	worker     *planner.Worker
	store      ledger.Storage
	logger     *zap.Logger
	config     *config.Config
}

// NewServer creates the HTTP server facade.
func NewServer(
	receiving *ledger.ReceivingLedger,
	allocation *ledger.AllocationLedger,
	plan *planner.Planner,
	worker *planner.Worker,
	store ledger.Storage,
	logger *zap.Logger,
	cfg *config.Config,
) *Server {
	return &Server{
		receiving:  receiving,
		allocation: allocation,
		planner:    plan,
		worker:     worker,
		store:      store,
		logger:     logger,
		config:     cfg,
	}
}

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	if s.config.API.EnableMetrics {
		r.Use(s.metricsMiddleware)
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/receipts", s.handleReceive).Methods(http.MethodPost)
	api.HandleFunc("/receipts/bulk", s.handleReceiveBulk).Methods(http.MethodPost)
	api.HandleFunc("/receipts/{folio}", s.handleGetReceipt).Methods(http.MethodGet)

	api.HandleFunc("/outputs", s.handleCreateOutput).Methods(http.MethodPost)
	api.HandleFunc("/outputs/{folio}", s.handleGetOutput).Methods(http.MethodGet)
	api.HandleFunc("/outputs/{folio}/approve", s.handleApproveOutput).Methods(http.MethodPost)
	api.HandleFunc("/outputs/{folio}/return", s.handleRequestReturn).Methods(http.MethodPost)
	api.HandleFunc("/outputs/{folio}/return/approve", s.handleApproveReturn).Methods(http.MethodPost)
	api.HandleFunc("/outputs/{folio}/cancel", s.handleCancelOutput).Methods(http.MethodPost)

	api.HandleFunc("/inventory/{material}", s.handleGetInventory).Methods(http.MethodGet)
	api.HandleFunc("/inventory/{material}/movements", s.handleListMovements).Methods(http.MethodGet)

	api.HandleFunc("/volumetry", s.handleUpsertVolumetry).Methods(http.MethodPost)
	api.HandleFunc("/orders/{order}/lots", s.handleUploadLots).Methods(http.MethodPost)
	api.HandleFunc("/orders/{order}/explode", s.handleExplode).Methods(http.MethodPost)
	api.HandleFunc("/orders/{order}/explosion", s.handleGetExplosion).Methods(http.MethodGet)
	api.HandleFunc("/orders/{order}/requirements", s.handleRequirements).Methods(http.MethodGet)
	api.HandleFunc("/orders/{order}/purchase-orders", s.handleCreatePurchaseOrder).Methods(http.MethodPost)
	api.HandleFunc("/quantifications", s.handleGetQuantification).Methods(http.MethodGet)

	var handler http.Handler = r
	if s.config.API.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req ledger.ReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := s.receiving.Receive(r.Context(), req)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, receipt)
}

func (s *Server) handleReceiveBulk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	result, err := s.receiving.ReceiveBulk(r.Context(), ledger.BulkReceiveRequest{
		PurchaseOrderID: r.FormValue("purchase_order_id"),
		SupplierID:      r.FormValue("supplier_id"),
		ProjectID:       r.FormValue("project_id"),
		Notes:           r.FormValue("notes"),
		Token:           r.FormValue("token"),
		Sheet:           file,
	})
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	folio, err := s.folioParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.store.GetReceipt(r.Context(), folio)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, receipt)
}

func (s *Server) handleCreateOutput(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateOutputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	output, err := s.allocation.Create(r.Context(), req)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, output)
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	folio, err := s.folioParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	output, err := s.allocation.Get(r.Context(), folio)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, output)
}

func (s *Server) handleApproveOutput(w http.ResponseWriter, r *http.Request) {
	folio, err := s.folioParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Items []ledger.OutputItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	output, err := s.allocation.Approve(r.Context(), folio, body.Items)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, output)
}

func (s *Server) handleRequestReturn(w http.ResponseWriter, r *http.Request) {
	folio, err := s.folioParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	output, err := s.allocation.RequestReturn(r.Context(), folio)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, output)
}

func (s *Server) handleApproveReturn(w http.ResponseWriter, r *http.Request) {
	folio, err := s.folioParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Items     []ledger.OutputItem `json:"items"`
		Full      bool                `json:"full"`
		Remaining []ledger.OutputItem `json:"remaining"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	output, err := s.allocation.ApproveReturn(r.Context(), folio, body.Items, body.Full, body.Remaining)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, output)
}

func (s *Server) handleCancelOutput(w http.ResponseWriter, r *http.Request) {
	folio, err := s.folioParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	output, err := s.allocation.Cancel(r.Context(), folio)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, output)
}

func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	materialID := mux.Vars(r)["material"]

	record, err := s.store.GetInventoryByMaterial(r.Context(), materialID)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	lots, err := s.store.ListLotsByMaterial(r.Context(), materialID)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"inventory": record,
		"lots":      lots,
	})
}

func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	materialID := mux.Vars(r)["material"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	movements, err := s.store.ListMovementsByMaterial(r.Context(), materialID, limit)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, movements)
}

func (s *Server) handleUpsertVolumetry(w http.ResponseWriter, r *http.Request) {
	var record planner.VolumetryRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.planner.UpsertVolumetry(r.Context(), &record); err != nil {
		s.respondLedgerError(w, err)
		return
	}

	// Dependent caches rebuild in the background.
	s.worker.Enqueue(planner.Job{
		Kind:      planner.JobQuantification,
		ClientID:  record.ClientID,
		SiteID:    record.SiteID,
		Prototype: record.Prototype,
	})

	s.respond(w, http.StatusOK, record)
}

func (s *Server) handleUploadLots(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order"]

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	result, err := s.planner.UploadLots(r.Context(), orderID, file)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}

	if result.Inserted > 0 {
		s.worker.Enqueue(planner.Job{Kind: planner.JobExplosion, OrderID: orderID})
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleExplode(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order"]

	if err := s.planner.Explode(r.Context(), orderID); err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"order_id": orderID})
}

func (s *Server) handleGetExplosion(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order"]

	records, err := s.planner.Explosion(r.Context(), orderID)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, records)
}

func (s *Server) handleRequirements(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order"]
	supplierID := r.URL.Query().Get("supplier_id")
	divisions := splitParam(r.URL.Query().Get("divisions"))

	requirements, err := s.planner.BuildRequirements(r.Context(), orderID, supplierID, divisions)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, requirements)
}

func (s *Server) handleCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order"]
	var body struct {
		SupplierID string   `json:"supplier_id"`
		Divisions  []string `json:"divisions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	order, requirements, err := s.planner.CreatePurchaseOrder(r.Context(), orderID, body.SupplierID, body.Divisions)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]interface{}{
		"purchase_order": order,
		"warnings":       requirements.Warnings,
	})
}

func (s *Server) handleGetQuantification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	record, err := s.planner.Quantification(r.Context(), q.Get("client_id"), q.Get("site_id"), q.Get("prototype"))
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	s.respond(w, http.StatusOK, record)
}

func (s *Server) folioParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["folio"], 10, 64)
}

func splitParam(value string) []string {
	if value == "" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func (s *Server) respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err.Error()}); encErr != nil {
		s.logger.Error("failed to encode error response", zap.Error(encErr))
	}
}

// respondLedgerError maps domain errors to HTTP status codes.
func (s *Server) respondLedgerError(w http.ResponseWriter, err error) {
	var validationErr *ledger.ValidationError
	var businessErr *ledger.BusinessRuleError

	switch {
	case errors.As(err, &validationErr):
		s.respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, ledger.ErrMaterialNotFound),
		errors.Is(err, ledger.ErrInventoryNotFound),
		errors.Is(err, ledger.ErrLotNotFound),
		errors.Is(err, ledger.ErrReceiptNotFound),
		errors.Is(err, ledger.ErrOutputNotFound),
		errors.Is(err, planner.ErrOrderNotFound),
		errors.Is(err, planner.ErrQuantificationNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrDuplicateDelivery),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.As(err, &businessErr):
		s.respondError(w, http.StatusConflict, err)
	default:
		s.logger.Error("internal error", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err)
	}
}
