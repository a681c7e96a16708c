package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dualstake-labs/dsm/internal/engine"
	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/metrics"
	"github.com/dualstake-labs/dsm/internal/state"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the engine's transaction and read API, the keeper
// trigger and the operator controls over HTTP.
type WebServer struct {
	router *mux.Router
	port   string

	engine        *engine.Engine
	metrics       *metrics.Recorder
	configName    string
	operatorToken string
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, eng *engine.Engine, rec *metrics.Recorder, configName, operatorToken string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:        mux.NewRouter(),
		port:          port,
		engine:        eng,
		metrics:       rec,
		configName:    configName,
		operatorToken: operatorToken,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/status", ws.handleGetStatus).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/cycles/{id}", ws.handleGetCycle).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")
	api.HandleFunc("/validators", ws.handleGetValidators).Methods("GET")
	api.HandleFunc("/positions/{owner}", ws.handleGetPosition).Methods("GET")
	api.HandleFunc("/deposit", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", ws.handleRequestWithdrawal).Methods("POST")
	api.HandleFunc("/withdrawals/{id}/process", ws.handleProcessWithdrawal).Methods("POST")
	api.HandleFunc("/rebalance", ws.handleTriggerRebalance).Methods("POST")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(ws.operatorAuthMiddleware)
	admin.HandleFunc("/resume", ws.handleResume).Methods("POST")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and engine health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	status := ws.engine.Status()
	if status.Paused {
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "dsm-dual-stake-manager",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"paused":           status.Paused,
			"needs_rebalance":  status.NeedsRebalance,
			"reserve_health":   status.ReserveHealth,
			"updated_at":       status.UpdatedAt,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetStatus returns the engine's published pool snapshot
func (ws *WebServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Status())
}

// handleGetCycles returns paginated cycle data
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	cycles, err := state.GetRecentCycles(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycle returns a specific cycle by its cycle UUID
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cycleID := vars["id"]

	cycle, err := state.GetCycleByID(cycleID)
	if err != nil {
		webLogger.Error().Err(err).Str("cycleId", cycleID).Msg("Failed to get cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "Cycle not found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cycle)
}

// handleGetLatestCycle returns the most recent cycle
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	cycles, err := state.GetRecentCycles(1)
	if err != nil || len(cycles) == 0 {
		webLogger.Error().Err(err).Msg("Failed to get latest cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cycles[0])
}

// handleGetParameters returns the active engine parameters
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	params, err := state.LoadActiveEngineParameters(ws.configName)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get engine parameters")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve engine parameters")
		return
	}

	response := map[string]interface{}{
		"parameters": params,
		"timestamp":  time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetValidators returns the current validator set view
func (ws *WebServer) handleGetValidators(w http.ResponseWriter, r *http.Request) {
	validators, err := ws.engine.Validators(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list validators")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve validators")
		return
	}

	response := map[string]interface{}{
		"validators": validators,
		"count":      len(validators),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPosition returns one owner's position
func (ws *WebServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner := vars["owner"]

	pos, err := ws.engine.Position(owner)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Position not found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, pos)
}

// handleDeposit accepts a dual-asset deposit. Amounts arrive as decimal
// strings in base units (wei-denominated CORE, sats); a missing field means
// zero, so single-asset deposits are just a body with one amount.
func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner      string `json:"owner"`
		CoreAmount string `json:"core_amount"`
		BtcAmount  string `json:"btc_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Owner == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Request body must name an owner")
		return
	}

	coreAmount, err := parseAmount(body.CoreAmount)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	btcAmount, err := parseAmount(body.BtcAmount)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := ws.engine.Deposit(r.Context(), body.Owner, coreAmount, btcAmount)
	if err != nil {
		webLogger.Warn().Err(err).Str("owner", body.Owner).Msg("Deposit refused")
		ws.writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	}

	ws.metrics.RecordDeposit(ws.engine.Status().Tier.String())
	ws.writeJSONResponse(w, http.StatusCreated, pos)
}

// handleRequestWithdrawal redeems shares. The response ticket tells the
// caller whether the payout was instant or which request IDs to process
// once they unlock.
func (ws *WebServer) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner  string `json:"owner"`
		Shares string `json:"shares"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Owner == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Request body must name an owner")
		return
	}

	shares, err := parseAmount(body.Shares)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ticket, err := ws.engine.RequestWithdrawal(r.Context(), body.Owner, shares)
	if err != nil {
		webLogger.Warn().Err(err).Str("owner", body.Owner).Msg("Withdrawal refused")
		status := http.StatusConflict
		if errors.Is(err, engine.ErrUnknownPosition) {
			status = http.StatusNotFound
		}
		ws.writeErrorResponse(w, status, err.Error())
		return
	}

	path := "queued"
	if ticket.Instant {
		path = "instant"
	}
	ws.metrics.RecordWithdrawal(path)
	ws.writeJSONResponse(w, http.StatusOK, ticket)
}

// handleProcessWithdrawal pays out one matured unbonding request.
func (ws *WebServer) handleProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	requestID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Request ID must be a positive integer")
		return
	}

	var body struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Owner == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Request body must name an owner")
		return
	}

	req, err := ws.engine.ProcessWithdrawal(r.Context(), body.Owner, requestID)
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, engine.ErrUnknownRequest) {
			status = http.StatusNotFound
		}
		ws.writeErrorResponse(w, status, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, req)
}

// handleTriggerRebalance lets an external keeper trigger a rebalance cycle.
// The caller identifies itself so the keeper reward can be attributed.
func (ws *WebServer) handleTriggerRebalance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keeper string `json:"keeper"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Keeper == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Request body must name a keeper address")
		return
	}

	receipt, err := ws.engine.Rebalance(r.Context(), body.Keeper)
	if err != nil {
		webLogger.Warn().Err(err).Str("keeper", body.Keeper).Msg("Keeper rebalance refused")
		ws.writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	}

	if receipt.KeeperReward.IsPositive() {
		ws.metrics.RecordKeeperReward()
	}
	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

// parseAmount reads a base-unit amount from its JSON string form. An empty
// string counts as zero.
func parseAmount(s string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("not a valid integer amount: %q", s)
	}
	return v, nil
}

// handleResume resets the circuit breaker. Operator only.
func (ws *WebServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := ws.engine.Resume(r.Context()); err != nil {
		ws.writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	}

	webLogger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Circuit breaker reset via API")
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"resumed":   true,
		"timestamp": time.Now().UTC(),
	})
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// operatorAuthMiddleware gates admin routes behind the operator token.
func (ws *WebServer) operatorAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if ws.operatorToken == "" || token != "Bearer "+ws.operatorToken {
			webLogger.Warn().Str("remote_addr", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rejected admin request")
			ws.writeErrorResponse(w, http.StatusUnauthorized, "Operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture the status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
