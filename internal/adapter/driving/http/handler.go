package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/trustkit/internal/application"
	"github.com/ericfisherdev/trustkit/internal/domain/model"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// TrustService is the part of the trust aggregator the API drives.
type TrustService interface {
	TrustManager() *application.TrustManager
	Refresh(ctx context.Context) error
	Invalidate(host string)
}

// Handler is the HTTP driving adapter that serves the management API. It
// never returns secret material.
type Handler struct {
	secrets driven.SecretStore
	certs   driven.CertificateStore
	trust   TrustService
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	secrets driven.SecretStore,
	certs driven.CertificateStore,
	trust TrustService,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		secrets: secrets,
		certs:   certs,
		trust:   trust,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/identities", h.ListIdentities)
	mux.HandleFunc("GET /api/v1/certificates/{type}/servers", h.ListCertificateServers)
	mux.HandleFunc("GET /api/v1/trust/anchors", h.ListAnchors)
	mux.HandleFunc("POST /api/v1/trust/refresh", h.RefreshTrust)
	mux.HandleFunc("DELETE /api/v1/trust/cache/{host}", h.InvalidateCache)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a liveness response with the current trust generation.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	tm := h.trust.TrustManager()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		Time:            time.Now().UTC().Format(time.RFC3339),
		TrustGeneration: tm.Generation(),
		Anchors:         len(tm.Anchors()),
	})
}

// ListIdentities returns the (site, type) pair of every stored credential.
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	ids := h.secrets.ListIdentities(r.Context())

	resp := make([]IdentityResponse, 0, len(ids))
	for _, id := range ids {
		resp = append(resp, toIdentityResponse(id))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListCertificateServers returns the servers holding a certificate of the
// requested type.
func (h *Handler) ListCertificateServers(w http.ResponseWriter, r *http.Request) {
	certType, ok := model.ParseCertificateType(r.PathValue("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown certificate type")
		return
	}

	servers := h.certs.ListServers(r.Context(), certType)
	if servers == nil {
		servers = []string{}
	}

	writeJSON(w, http.StatusOK, CertificateServersResponse{
		Type:    string(certType),
		Servers: servers,
	})
}

// ListAnchors describes the anchors of the current TrustManager.
func (h *Handler) ListAnchors(w http.ResponseWriter, _ *http.Request) {
	tm := h.trust.TrustManager()
	anchors := tm.Anchors()

	resp := AnchorsResponse{
		Generation: tm.Generation(),
		Anchors:    make([]AnchorResponse, 0, len(anchors)),
	}
	for _, a := range anchors {
		resp.Anchors = append(resp.Anchors, toAnchorResponse(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RefreshTrust rebuilds the TrustManager from every anchor source.
func (h *Handler) RefreshTrust(w http.ResponseWriter, r *http.Request) {
	if err := h.trust.Refresh(r.Context()); err != nil {
		h.logger.Error("failed to refresh trust anchors", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	tm := h.trust.TrustManager()
	writeJSON(w, http.StatusOK, RefreshResponse{
		Generation: tm.Generation(),
		Anchors:    len(tm.Anchors()),
	})
}

// InvalidateCache evicts cached socket factories for a host.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	host := r.PathValue("host")
	if host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	h.trust.Invalidate(host)
	w.WriteHeader(http.StatusNoContent)
}
