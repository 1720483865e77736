package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeVerifyError maps a classified Error to an HTTP status and a
// FastAPI-style {"detail": ...} body with the classification alongside.
func writeVerifyError(w http.ResponseWriter, verr *Error) {
	status := http.StatusBadRequest
	switch verr.Kind {
	case KindTimeout:
		status = http.StatusGatewayTimeout
	case KindOffline, KindUpstreamUnavailable, KindServerError:
		status = http.StatusBadGateway
	case KindRateLimited:
		status = http.StatusTooManyRequests
	case KindNotFound:
		status = http.StatusNotFound
	}

	body := map[string]any{
		"detail": verr.Message,
		"kind":   string(verr.Kind),
	}
	if verr.Field != "" {
		body["field"] = verr.Field
	}
	writeJSON(w, status, body)
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type verifyResponse struct {
	Verification *NormalizedVerification `json:"verification"`
	Details      []Detail                `json:"details"`
}

// handleVerifyReference verifies a transaction by reference
func (s *Server) handleVerifyReference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider  string `json:"provider"`
		Reference string `json:"reference"`
		Suffix    string `json:"suffix"`
		Phone     string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeVerifyError(w, &Error{Kind: KindInvalidInput, Message: "Invalid request body"})
		return
	}

	provider := Provider(strings.ToLower(strings.TrimSpace(req.Provider)))
	reference := strings.TrimSpace(req.Reference)
	if verr := provider.ValidateInputs(reference, req.Suffix, req.Phone); verr != nil {
		writeVerifyError(w, verr)
		return
	}

	cacheKey := "ref:" + string(provider) + ":" + reference + ":" + req.Suffix + ":" + req.Phone
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey); ok {
			writeJSON(w, http.StatusOK, verifyResponse{Verification: &cached, Details: FlattenDetails(&cached, provider)})
			return
		}
	}

	nv, verr := s.verifyReference(r, ReferenceRequest{
		Provider:  provider,
		Reference: reference,
		Suffix:    req.Suffix,
		Phone:     req.Phone,
	})
	if verr != nil {
		writeVerifyError(w, verr)
		return
	}

	if s.cache != nil {
		s.cache.Set(cacheKey, *nv)
	}
	s.recordHistory(nv, nv.Source)
	writeJSON(w, http.StatusOK, verifyResponse{Verification: nv, Details: FlattenDetails(nv, provider)})
}

// verifyReference runs the upstream call with the same local-receipt fallback
// the orchestrator uses for transient upstream failures.
func (s *Server) verifyReference(r *http.Request, req ReferenceRequest) (*NormalizedVerification, *Error) {
	raw, err := s.verifier.VerifyReference(r.Context(), req)
	if err == nil {
		return buildResult(raw, req.Provider, req.Reference), nil
	}

	verr := AsError(err)
	if verr.Transient() && s.local != nil && s.local.Supports(req.Provider) {
		lraw, lerr := s.local.Lookup(r.Context(), req.Provider, req.Reference)
		if lerr == nil {
			nv := buildResult(lraw, req.Provider, req.Reference)
			nv.Source = SourceLocal
			nv.Confidence = ConfidenceMedium
			return nv, nil
		}
		slog.Debug("Local receipt lookup failed", "provider", req.Provider, "error", lerr)
	}
	return nil, verr
}

type photoResponse struct {
	RecognizedText     string                  `json:"recognizedText"`
	ExtractedReference string                  `json:"extractedReference"`
	Verification       *NormalizedVerification `json:"verification"`
	Details            []Detail                `json:"details"`
}

// handleVerifyPhoto transcribes a receipt photo, extracts the transaction
// reference, and verifies it like a typed reference. When no reference can be
// extracted the recognized text is returned so the caller can correct it or
// fall back to receipt upload.
func (s *Server) handleVerifyPhoto(w http.ResponseWriter, r *http.Request) {
	if s.recognizer == nil {
		writeVerifyError(w, &Error{Kind: KindValidation, Message: "Text recognition is not available"})
		return
	}

	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		writeVerifyError(w, &Error{Kind: KindInvalidInput, Message: "Error parsing form"})
		return
	}

	provider := Provider(strings.ToLower(strings.TrimSpace(r.FormValue("provider"))))
	suffix := strings.TrimSpace(r.FormValue("suffix"))
	phone := strings.TrimSpace(r.FormValue("phone"))
	if !provider.Valid() {
		writeVerifyError(w, &Error{Kind: KindValidation, Field: "provider", Message: "Unsupported provider"})
		return
	}

	f, header, err := r.FormFile("image")
	if err != nil {
		writeVerifyError(w, &Error{Kind: KindValidation, Field: "image", Message: "No image provided"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading image data", "error", err, "filename", header.Filename)
		writeVerifyError(w, &Error{Kind: KindUnknown, Message: "Error reading file. Please try again."})
		return
	}

	text, err := s.recognizer.RecognizeText(r.Context(), data, inferContentType(header.Header.Get("Content-Type"), header.Filename))
	if err != nil {
		verr := AsError(err)
		if verr.Kind == KindUnknown {
			verr = &Error{Kind: KindUnknown, Message: "Could not read the image. Try upload verification instead.", Detail: verr.Detail}
		}
		writeVerifyError(w, verr)
		return
	}

	reference := ExtractReference(text)
	if reference == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail":         "Could not find a transaction reference in the image. Enter it manually or upload the receipt.",
			"kind":           string(KindExtraction),
			"recognizedText": text,
		})
		return
	}

	if verr := provider.ValidateInputs(reference, suffix, phone); verr != nil {
		writeVerifyError(w, verr)
		return
	}

	nv, verr := s.verifyReference(r, ReferenceRequest{
		Provider:  provider,
		Reference: reference,
		Suffix:    suffix,
		Phone:     phone,
	})
	if verr != nil {
		writeVerifyError(w, verr)
		return
	}

	s.recordHistory(nv, nv.Source)
	writeJSON(w, http.StatusOK, photoResponse{
		RecognizedText:     text,
		ExtractedReference: reference,
		Verification:       nv,
		Details:            FlattenDetails(nv, provider),
	})
}

// handleVerifyReceipt verifies a transaction from a receipt image upload
func (s *Server) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	// Parse multipart form (max 50MB to handle high-resolution phone photos)
	maxFormSize := int64(50 << 20) // 50MB
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeVerifyError(w, &Error{Kind: KindInvalidInput, Message: errorMsg})
		return
	}

	provider := Provider(strings.ToLower(strings.TrimSpace(r.FormValue("provider"))))
	suffix := strings.TrimSpace(r.FormValue("suffix"))
	if !provider.Valid() {
		writeVerifyError(w, &Error{Kind: KindValidation, Field: "provider", Message: "Unsupported provider"})
		return
	}
	if !provider.SupportsUpload() {
		writeVerifyError(w, &Error{Kind: KindValidation, Field: "provider", Message: "Receipt upload is not available for " + provider.Label()})
		return
	}
	if provider == ProviderCBE && suffix == "" {
		writeVerifyError(w, &Error{Kind: KindValidation, Field: "suffix", Message: "Account suffix is required for " + provider.Label()})
		return
	}

	f, header, err := r.FormFile("image")
	if err != nil {
		errorMsg := "No image provided"
		if err.Error() == "http: no such file" {
			errorMsg = "No image was selected. Please choose a receipt image to upload."
		}
		writeVerifyError(w, &Error{Kind: KindValidation, Field: "image", Message: errorMsg})
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeVerifyError(w, &Error{Kind: KindInvalidInput, Message: "File is too large. Maximum size is 50MB. Please compress or resize your image."})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading image data", "error", err, "filename", header.Filename)
		writeVerifyError(w, &Error{Kind: KindUnknown, Message: "Error reading file. Please try again."})
		return
	}

	contentType := inferContentType(header.Header.Get("Content-Type"), header.Filename)

	digest := sha256.Sum256(data)
	cacheKey := "img:" + hex.EncodeToString(digest[:16]) + ":" + string(provider) + ":" + suffix
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey); ok {
			writeJSON(w, http.StatusOK, verifyResponse{Verification: &cached, Details: FlattenDetails(&cached, provider)})
			return
		}
	}

	raw, err := s.verifier.VerifyReceipt(r.Context(), ReceiptRequest{
		Provider:    provider,
		Suffix:      suffix,
		Image:       data,
		Filename:    header.Filename,
		ContentType: contentType,
	})
	if err != nil {
		writeVerifyError(w, AsError(err))
		return
	}

	nv := buildResult(raw, provider, "")
	if s.cache != nil {
		s.cache.Set(cacheKey, *nv)
	}
	s.recordHistory(nv, SourceUpload)
	writeJSON(w, http.StatusOK, verifyResponse{Verification: nv, Details: FlattenDetails(nv, provider)})
}

// inferContentType falls back to the filename extension when the part carries
// no usable content type.
func inferContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// recordHistory appends a successful verification. Failures are logged and
// swallowed so persistence never alters a verdict already computed.
func (s *Server) recordHistory(nv *NormalizedVerification, source Source) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(NewRecord(nv, source)); err != nil {
		slog.Warn("Failed to record verification history", "error", err)
	}
}

// handleListHistory returns all saved verifications, newest first
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.List()
	if err != nil {
		slog.Error("Error listing history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal server error"})
		return
	}
	if records == nil {
		records = []*Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleClearHistory deletes all saved verifications
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(); err != nil {
		slog.Error("Error clearing history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal server error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetBaseURL returns the configured verification endpoint
func (s *Server) handleGetBaseURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.settings.BaseURL()
	if err != nil {
		slog.Error("Error reading settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"baseUrl": url})
}

// handleSetBaseURL replaces the verification endpoint. An empty value reverts
// to the default.
func (s *Server) handleSetBaseURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseURL string `json:"baseUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeVerifyError(w, &Error{Kind: KindInvalidInput, Message: "Invalid request body"})
		return
	}

	url := strings.TrimSpace(req.BaseURL)
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		writeVerifyError(w, &Error{Kind: KindValidation, Field: "baseUrl", Message: "Base URL must start with http:// or https://"})
		return
	}

	if err := s.settings.SetBaseURL(url); err != nil {
		slog.Error("Error saving settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal server error"})
		return
	}

	saved, err := s.settings.BaseURL()
	if err != nil {
		slog.Error("Error reading settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"baseUrl": saved})
}
