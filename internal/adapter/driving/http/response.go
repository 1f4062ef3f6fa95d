package httphandler

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status          string `json:"status"`
	Time            string `json:"time"`
	TrustGeneration uint64 `json:"trust_generation"`
	Anchors         int    `json:"anchors"`
}

// IdentityResponse names one stored credential without its secret parts.
type IdentityResponse struct {
	Site      string `json:"site"`
	Type      string `json:"type"`
	IsDefault bool   `json:"is_default"`
}

// CertificateServersResponse lists the server slots of one certificate type.
type CertificateServersResponse struct {
	Type    string   `json:"type"`
	Servers []string `json:"servers"`
}

// AnchorResponse describes a single trust anchor.
type AnchorResponse struct {
	Subject     string `json:"subject"`
	Issuer      string `json:"issuer"`
	Fingerprint string `json:"sha256_fingerprint"`
	NotBefore   string `json:"not_before"`
	NotAfter    string `json:"not_after"`
}

// AnchorsResponse is the anchor set of one TrustManager generation.
type AnchorsResponse struct {
	Generation uint64           `json:"generation"`
	Anchors    []AnchorResponse `json:"anchors"`
}

// RefreshResponse reports the TrustManager produced by a refresh.
type RefreshResponse struct {
	Generation uint64 `json:"generation"`
	Anchors    int    `json:"anchors"`
}

// toIdentityResponse converts a domain CredentialIdentity to its JSON representation.
func toIdentityResponse(id model.CredentialIdentity) IdentityResponse {
	return IdentityResponse{
		Site:      id.Site,
		Type:      string(id.Type),
		IsDefault: id.IsDefault(),
	}
}

// toAnchorResponse converts an anchor certificate to its JSON representation.
func toAnchorResponse(c *x509.Certificate) AnchorResponse {
	sum := sha256.Sum256(c.Raw)
	return AnchorResponse{
		Subject:     c.Subject.String(),
		Issuer:      c.Issuer.String(),
		Fingerprint: hex.EncodeToString(sum[:]),
		NotBefore:   c.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:    c.NotAfter.UTC().Format(time.RFC3339),
	}
}
