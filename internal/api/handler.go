package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/notify"
	"github.com/punchamoorthee/chipledger/internal/service"
	"github.com/punchamoorthee/chipledger/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chipledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chipledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	store      store.Store
	sessions   *service.SessionService
	transfers  *service.TransferService
	settlement *service.SettlementService
	hub        *notify.Hub
	jwtSecret  []byte
	log        *zap.Logger
}

func NewHandler(
	st store.Store,
	sessions *service.SessionService,
	transfers *service.TransferService,
	settlement *service.SettlementService,
	hub *notify.Hub,
	jwtSecret []byte,
	log *zap.Logger,
) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:      st,
		sessions:   sessions,
		transfers:  transfers,
		settlement: settlement,
		hub:        hub,
		jwtSecret:  jwtSecret,
		log:        log,
	}
}

// Router builds the full route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Reads are open; mutations and the feed require a caller identity.
	v1.HandleFunc("/sessions/{id}", h.instrument("GET", "/sessions/{id}", h.getSession)).Methods("GET")
	v1.HandleFunc("/sessions/{id}/participants", h.instrument("GET", "/sessions/{id}/participants", h.listParticipants)).Methods("GET")
	v1.HandleFunc("/sessions/{id}/balances", h.instrument("GET", "/sessions/{id}/balances", h.listBalances)).Methods("GET")
	v1.HandleFunc("/sessions/{id}/transactions", h.instrument("GET", "/sessions/{id}/transactions", h.listTransactions)).Methods("GET")
	v1.HandleFunc("/sessions/{id}/settlement", h.instrument("GET", "/sessions/{id}/settlement", h.getSettlement)).Methods("GET")
	v1.HandleFunc("/users/{id}/sessions", h.instrument("GET", "/users/{id}/sessions", h.listUserSessions)).Methods("GET")
	v1.HandleFunc("/users/{id}/sessions/active", h.instrument("GET", "/users/{id}/sessions/active", h.getActiveSession)).Methods("GET")

	authed := v1.NewRoute().Subrouter()
	authed.Use(h.authMiddleware)
	authed.HandleFunc("/sessions", h.instrument("POST", "/sessions", h.createSession)).Methods("POST")
	authed.HandleFunc("/sessions/{id}/join", h.instrument("POST", "/sessions/{id}/join", h.joinSession)).Methods("POST")
	authed.HandleFunc("/sessions/{id}/start", h.instrument("POST", "/sessions/{id}/start", h.startSession)).Methods("POST")
	authed.HandleFunc("/sessions/{id}/end", h.instrument("POST", "/sessions/{id}/end", h.endSession)).Methods("POST")
	authed.HandleFunc("/sessions/{id}/leave", h.instrument("POST", "/sessions/{id}/leave", h.leaveSession)).Methods("POST")
	authed.HandleFunc("/sessions/{id}/rate", h.instrument("PATCH", "/sessions/{id}/rate", h.updateRate)).Methods("PATCH")
	authed.HandleFunc("/sessions/{id}/settlement", h.instrument("POST", "/sessions/{id}/settlement", h.confirmSettlement)).Methods("POST")
	authed.HandleFunc("/transfers", h.instrument("POST", "/transfers", h.createTransfer)).Methods("POST")
	authed.HandleFunc("/me", h.instrument("GET", "/me", h.getCurrentProfile)).Methods("GET")
	authed.HandleFunc("/me", h.instrument("PATCH", "/me", h.updateProfile)).Methods("PATCH")
	authed.HandleFunc("/profiles", h.instrument("POST", "/profiles", h.createProfile)).Methods("POST")
	authed.HandleFunc("/ws/sessions/{id}", h.serveWS)

	return r
}

func (h *Handler) instrument(method, endpoint string, fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(method, endpoint))
		defer timer.ObserveDuration()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// --- Sessions ---

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var params domain.CreateSessionParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	sess, err := h.sessions.Create(r.Context(), UserID(r.Context()), params)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, sess)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sess)
}

func (h *Handler) listUserSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.SessionsByUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) getActiveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.ActiveSessionByUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if sess == nil {
		respondWithError(w, http.StatusNotFound, "no active session")
		return
	}
	respondWithJSON(w, http.StatusOK, sess)
}

func (h *Handler) joinSession(w http.ResponseWriter, r *http.Request) {
	part, err := h.sessions.Join(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, part)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Start(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sess)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.End(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sess)
}

func (h *Handler) leaveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Leave(r.Context(), UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (h *Handler) updateRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	sess, err := h.sessions.UpdateRate(r.Context(), UserID(r.Context()), mux.Vars(r)["id"], body.Rate)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sess)
}

// --- Reads ---

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	parts, err := h.store.Participants(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"participants": parts})
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.store.Balances(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	txns, err := h.store.Transactions(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

// --- Transfers ---

type transferRequest struct {
	SessionID  string `json:"session_id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Amount     int64  `json:"amount"`
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	res, err := h.transfers.Transfer(r.Context(), UserID(r.Context()), req.SessionID, req.FromUserID, req.ToUserID, req.Amount)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

// --- Settlement ---

func (h *Handler) getSettlement(w http.ResponseWriter, r *http.Request) {
	data, err := h.settlement.Calculate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, data)
}

func (h *Handler) confirmSettlement(w http.ResponseWriter, r *http.Request) {
	result, err := h.settlement.Confirm(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// --- Profiles ---

func (h *Handler) getCurrentProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.store.GetProfile(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, profile)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	profile, err := h.store.UpdateProfileName(r.Context(), UserID(r.Context()), body.DisplayName)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, profile)
}

func (h *Handler) createProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	profile, err := h.store.CreateProfile(r.Context(), UserID(r.Context()), body.DisplayName)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, profile)
}

// --- Error mapping ---

// respondServiceError maps sentinel errors onto the HTTP taxonomy:
// authentication 401, authorization 403, missing rows 404, state conflicts
// 409, validation and fund/point shortfalls 422, everything else 500.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		respondWithError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrIdentityMismatch),
		errors.Is(err, store.ErrNotHost),
		errors.Is(err, store.ErrNotParticipant),
		errors.Is(err, store.ErrHostCannotLeave):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrProfileNotFound),
		errors.Is(err, store.ErrBalanceNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrSessionFull),
		errors.Is(err, store.ErrAlreadyJoined),
		errors.Is(err, store.ErrSessionNotJoinable),
		errors.Is(err, store.ErrWrongState),
		errors.Is(err, store.ErrCannotLeaveActive),
		errors.Is(err, store.ErrSessionNotActive),
		errors.Is(err, store.ErrSessionNotCompleted),
		errors.Is(err, store.ErrAlreadySettled),
		errors.Is(err, store.ErrProfileExists):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSelfTransfer),
		errors.Is(err, service.ErrInvalidInitialChips),
		errors.Is(err, service.ErrInvalidMaxParticipants),
		errors.Is(err, service.ErrInvalidRate),
		errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrInsufficientParticipants),
		errors.Is(err, store.ErrInsufficientPoints),
		errors.Is(err, store.ErrNoParticipants):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error("internal error", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
