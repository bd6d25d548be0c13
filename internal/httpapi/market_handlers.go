package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"realitymarket/internal/apperr"
	"realitymarket/internal/broadcast"
	"realitymarket/pkg/types"
)

// MarketHandlers holds the handler dependencies for the
// Ingest+Scoring+Blender service process.
type MarketHandlers struct {
	adminKey  string
	ingester  Ingester
	audits    AuditReader
	instr     InstrumentAdmin
	reads     ReadStore
	hub       *broadcast.Hub
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewMarketHandlers creates the handler set for cmd/marketd.
func NewMarketHandlers(adminKey string, ingester Ingester, audits AuditReader, instr InstrumentAdmin, reads ReadStore, hub *broadcast.Hub, logger *slog.Logger) *MarketHandlers {
	return &MarketHandlers{
		adminKey: adminKey,
		ingester: ingester,
		audits:   audits,
		instr:    instr,
		reads:    reads,
		hub:      hub,
		logger:   logger.With("component", "market-handlers"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (h *MarketHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleIngest implements `POST /api/v1/reality/ingest` (§6).
func (h *MarketHandlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.BadRequest, "read request body", err))
		return
	}
	sig := r.Header.Get("X-Reality-Signature")

	res, err := h.ingester.IngestEvent(r.Context(), payload, sig)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	switch res.Outcome {
	case "duplicate":
		status = http.StatusOK
	case "pending_review":
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *MarketHandlers) isAdmin(r *http.Request) bool {
	given := r.Header.Get("X-Admin-Key")
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.adminKey)) == 1
}

func (h *MarketHandlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !h.isAdmin(r) {
		writeError(w, h.logger, apperr.New(apperr.Unauthorized, "invalid or missing admin key"))
		return false
	}
	return true
}

type createInstrumentRequest struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	MarketWeight  float64 `json:"market_weight"`
	RealityWeight float64 `json:"reality_weight"`
	MinPrice      float64 `json:"min_price"`
	MaxPrice      float64 `json:"max_price"`
}

const weightSumEpsilon = 0.01

// HandleCreateInstrument implements `POST /api/v1/admin/stocks` (§6).
func (h *MarketHandlers) HandleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	// min_price/max_price default to 0/100 when absent from the body.
	req := createInstrumentRequest{MinPrice: 0, MaxPrice: 100}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.Validation, "malformed instrument payload", err))
		return
	}

	sum := req.MarketWeight + req.RealityWeight
	if sum < 1-weightSumEpsilon || sum > 1+weightSumEpsilon {
		writeError(w, h.logger, apperr.New(apperr.BadRequest, "market_weight + reality_weight must be ~1"))
		return
	}
	if req.MaxPrice < req.MinPrice {
		writeError(w, h.logger, apperr.New(apperr.BadRequest, "max_price must be >= min_price"))
		return
	}

	inst := types.Instrument{
		Symbol: req.Symbol, Name: req.Name, Description: req.Description,
		MarketWeight: req.MarketWeight, RealityWeight: req.RealityWeight,
		MinPrice: req.MinPrice, MaxPrice: req.MaxPrice, CreatedAt: time.Now().UTC(),
	}
	if err := h.instr.CreateInstrument(r.Context(), inst, 50); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// HandleListInstruments implements `GET /api/v1/admin/stocks` (§6).
func (h *MarketHandlers) HandleListInstruments(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	list, err := h.instr.ListInstruments(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleListAudits implements `GET /api/v1/admin/audits` (§6). It always
// lists pending records only; the pending_only query parameter is not
// read, and approved/rejected records are not returned.
func (h *MarketHandlers) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	records, err := h.audits.ListPending(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type approveAuditRequest struct {
	Approved   bool   `json:"approved"`
	ApprovedBy string `json:"approved_by"`
	Reason     string `json:"reason,omitempty"`
}

// HandleApproveAudit implements `POST /api/v1/admin/audits/{id}/approve` (§6).
func (h *MarketHandlers) HandleApproveAudit(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req approveAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.Validation, "malformed approval payload", err))
		return
	}

	id := r.PathValue("id")
	rec, err := h.audits.Decide(r.Context(), id, req.ApprovedBy, req.Approved, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleListStocks implements `GET /api/v1/stocks` (§6).
func (h *MarketHandlers) HandleListStocks(w http.ResponseWriter, r *http.Request) {
	list, err := h.instr.ListInstruments(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGetScore implements `GET /api/v1/scores/{symbol}` (§6).
func (h *MarketHandlers) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.reads.GetScore(r.Context(), r.PathValue("symbol"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// HandleListEvents implements `GET /api/v1/events/{symbol}?limit=` (§6).
func (h *MarketHandlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	events, err := h.reads.ListEventsBySymbol(r.Context(), r.PathValue("symbol"), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleScoreHistory implements `GET /api/v1/scores/{symbol}/history?hours=` (§6).
func (h *MarketHandlers) HandleScoreHistory(w http.ResponseWriter, r *http.Request) {
	hours := 24.0
	if v := r.URL.Query().Get("hours"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			hours = f
		}
	}
	since := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	history, err := h.reads.ScoreHistory(r.Context(), r.PathValue("symbol"), since)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// HandleWebSocket upgrades the connection onto the subscription channel (§6).
func (h *MarketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	broadcast.NewClient(h.hub, conn)
}
