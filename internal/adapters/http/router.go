package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/records-inbox/internal/config"
	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
	"github.com/kirillkom/records-inbox/internal/observability/metrics"
)

const (
	serviceName             = "api"
	defaultNotificationsMax = 50
	multipartMemory         = 8 << 20
)

type Router struct {
	triage        ports.TriageService
	notifications ports.NotificationFeed
	metrics       *metrics.HTTPServerMetrics

	apiKey         string
	maxUploadBytes int64
	limiter        *rate.Limiter
}

func NewRouter(cfg config.Config, triage ports.TriageService, notifications ports.NotificationFeed) *Router {
	rt := &Router{
		triage:         triage,
		notifications:  notifications,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if rt.maxUploadBytes <= 0 {
		rt.maxUploadBytes = 50 << 20
	}
	if cfg.APIRateLimitRPS > 0 {
		burst := cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		rt.limiter = rate.NewLimiter(rate.Limit(cfg.APIRateLimitRPS), burst)
	}
	return rt
}

// WithMetrics enables request metrics and the /metrics endpoint.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /v1/inbox", rt.listPending)
	api.HandleFunc("POST /v1/inbox/upload", rt.upload)
	api.HandleFunc("POST /v1/inbox/rescan", rt.rescan)
	api.HandleFunc("POST /v1/inbox/{id}/assign", rt.assign)
	api.HandleFunc("DELETE /v1/inbox/{id}", rt.discard)
	api.HandleFunc("GET /v1/inbox/{id}/download", rt.download)
	api.HandleFunc("GET /v1/queue/failed", rt.failedJobs)
	api.HandleFunc("GET /v1/mappings", rt.mappings)
	api.HandleFunc("GET /v1/notifications", rt.listNotifications)
	mux.Handle("/v1/", rt.authMiddleware(rateLimitMiddleware(rt.limiter, api)))

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listPending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := rt.triage.ListPending(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type assignRequest struct {
	EmployeeID string `json:"employee_id"`
	Category   string `json:"category"`
	Name       string `json:"name"`
	ExpiryDate string `json:"expiry_date"`
}

func (rt *Router) assign(w http.ResponseWriter, r *http.Request) {
	var body assignRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req := domain.AssignRequest{
		InboxID:    r.PathValue("id"),
		EmployeeID: body.EmployeeID,
		Category:   body.Category,
		Name:       body.Name,
	}
	if strings.TrimSpace(body.ExpiryDate) != "" {
		expiry, err := parseDate(body.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expiry_date must be YYYY-MM-DD or RFC3339")
			return
		}
		req.ExpiryDate = &expiry
	}

	doc, err := rt.triage.Assign(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) discard(w http.ResponseWriter, r *http.Request) {
	if err := rt.triage.Discard(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) download(w http.ResponseWriter, r *http.Request) {
	dl, err := rt.triage.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if dl.SignedURL != "" {
		http.Redirect(w, r, dl.SignedURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	if dl.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Data)
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > rt.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", rt.maxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", rt.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	processNow := r.URL.Query().Get("process") == "now"
	path, err := rt.triage.Upload(r.Context(), header.Filename, file, processNow)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.ObserveUpload(serviceName, int(header.Size))
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"path": path, "submitted": processNow})
}

func (rt *Router) rescan(w http.ResponseWriter, r *http.Request) {
	submitted, err := rt.triage.Rescan(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"submitted": submitted})
}

func (rt *Router) failedJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := rt.triage.FailedJobs(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs, "count": len(jobs)})
}

func (rt *Router) mappings(w http.ResponseWriter, r *http.Request) {
	items, err := rt.triage.Mappings(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (rt *Router) listNotifications(w http.ResponseWriter, r *http.Request) {
	if rt.notifications == nil {
		writeError(w, http.StatusNotFound, "notifications are not available")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 || limit > defaultNotificationsMax {
		limit = defaultNotificationsMax
	}
	items, err := rt.notifications.ListUnread(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
