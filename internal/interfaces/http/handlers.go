package http

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/exporthaven/forecaster/internal/application/serving"
	"github.com/exporthaven/forecaster/internal/domain/forecast"
)

// Predictor answers prediction queries
type Predictor interface {
	Predict(ctx context.Context, req serving.Request) (*serving.Response, error)
}

// HealthCheck reports the state of one dependency
type HealthCheck func() string

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	predictor Predictor
	version   string
	startTime time.Time
	checks    map[string]HealthCheck
}

// NewHandlers creates a new handlers instance
func NewHandlers(predictor Predictor, version string, checks map[string]HealthCheck) *Handlers {
	return &Handlers{
		predictor: predictor,
		version:   version,
		startTime: time.Now(),
		checks:    checks,
	}
}

// Predict handles GET|POST /api/predict
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	req, err := parsePredictRequest(w, r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, string(forecast.KindInvalidInput), "invalid request body: "+err.Error())
		return
	}

	resp, err := h.predictor.Predict(r.Context(), req)
	if err != nil {
		kind := forecast.KindOf(err)
		h.writeError(w, r, StatusFor(kind), string(kind), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, resp.Predictions)
}

// parsePredictRequest accepts query parameters, form bodies and JSON bodies
func parsePredictRequest(w http.ResponseWriter, r *http.Request) (serving.Request, error) {
	if r.Method == http.MethodPost {
		if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
			var body PredictRequest
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
				return serving.Request{}, err
			}
			return serving.Request{Month: body.Month, Country: body.Country}, nil
		}
	}

	return serving.Request{
		Month:   r.FormValue("month"),
		Country: r.FormValue("country"),
	}, nil
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response := HealthResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
	}

	if len(h.checks) > 0 {
		response.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			response.Checks[name] = check()
		}
	}

	h.writeJSON(w, http.StatusOK, response)
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind forecast.Kind) int {
	switch kind {
	case forecast.KindInvalidInput:
		return http.StatusBadRequest
	case forecast.KindArtifactUnavailable, forecast.KindNoUsablePredictions:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := RequestIDFrom(r.Context())
	if requestID == "" {
		requestID = "unknown"
	}

	errorResp := ErrorResponse{
		Error:     message,
		Message:   http.StatusText(status),
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}

	h.writeJSON(w, status, errorResp)
}
