package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"github.com/fabfab/retail-ingest/authz"
	"github.com/fabfab/retail-ingest/config"
	"github.com/fabfab/retail-ingest/ingestion"
	"github.com/fabfab/retail-ingest/pdftext"
)

const dateLayout = "2006-01-02"

// Ingester stores one uploaded report.
type Ingester interface {
	Ingest(ctx context.Context, upload ingestion.Upload) (*ingestion.Result, error)
}

// TextExtractor rebuilds the text of a PDF.
type TextExtractor interface {
	Extract(data []byte) (*pdftext.Document, error)
}

// Dependencies are the collaborators the handlers call into.
type Dependencies struct {
	Ingester    Ingester
	Extractor   TextExtractor
	Permissions authz.Provider
	// Clear removes all ingested data.
	Clear func(ctx context.Context) error
}

// Server exposes HTTP handlers for report ingestion and purchase-order text
// extraction.
type Server struct {
	cfg     config.Config
	deps    Dependencies
	logger  *log.Logger
	limiter *rate.Limiter
	handler http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type ingestResponse struct {
	BatchID   string            `json:"batchId"`
	Platform  string            `json:"platform"`
	Dataset   string            `json:"dataset"`
	Source    string            `json:"source"`
	SHA256    string            `json:"sha256"`
	Records   int               `json:"records"`
	Dropped   int               `json:"dropped"`
	Duplicate bool              `json:"duplicate"`
	Stored    bool              `json:"stored"`
	Summary   ingestion.Summary `json:"summary"`
}

type extractResponse struct {
	Source string `json:"source"`
	*pdftext.Document
	PurchaseOrder ingestion.PurchaseOrder `json:"purchaseOrder"`
}

// New constructs a Server using the provided configuration and collaborators.
func New(cfg config.Config, deps Dependencies, logger *log.Logger) *Server {
	if logger == nil {
		logger = &log.DefaultLogger
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		limiter: newLimiter(cfg.RateLimit),
	}
	s.handler = s.routes()
	return s
}

func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/v1/schemas", authz.Require(authz.AnyOf(authz.ViewInventory, authz.ViewSecondarySales))(http.HandlerFunc(s.handleSchemas)))
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.Handle("/v1/po/extract", authz.Require(authz.Single(authz.UploadPlatformPO))(http.HandlerFunc(s.handleExtract)))
	mux.Handle("/v1/clear", authz.Require(authz.AdminOnly())(http.HandlerFunc(s.handleClear)))

	if s.deps.Permissions == nil {
		return mux
	}
	return authz.LoadCaller(s.deps.Permissions, s.logger)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, ingestion.Schemas())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	// dataset-specific permission is checked after the form is parsed
	caller := authz.CallerFromContext(r.Context())
	if d := authz.Authorize(caller, anyUpload); !d.Allowed {
		authz.WriteDenied(w, d)
		return
	}
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, fmt.Errorf("upload rate limit exceeded, retry shortly"))
		return
	}
	if s.deps.Ingester == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("ingestion is not configured"))
		return
	}

	data, filename, err := s.readUpload(w, r)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	upload, err := uploadFromForm(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	upload.SourceName = filename
	upload.Data = data

	if d := authz.Authorize(caller, uploadRequirement(upload.Dataset)); !d.Allowed {
		authz.WriteDenied(w, d)
		return
	}

	result, err := s.deps.Ingester.Ingest(r.Context(), upload)
	if err != nil {
		s.writeError(w, ingestStatus(err), fmt.Errorf("ingestion failed: %w", err))
		return
	}

	b := result.Batch
	status := http.StatusCreated
	if !result.Stored {
		status = http.StatusOK
	}
	s.writeJSON(w, status, ingestResponse{
		BatchID:   b.ID.String(),
		Platform:  b.Platform,
		Dataset:   b.Dataset,
		Source:    b.SourceName,
		SHA256:    b.SHA256,
		Records:   len(b.Records),
		Dropped:   b.Dropped,
		Duplicate: result.Duplicate,
		Stored:    result.Stored,
		Summary:   b.Summary,
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, fmt.Errorf("upload rate limit exceeded, retry shortly"))
		return
	}
	if s.deps.Extractor == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("pdf extraction is not configured"))
		return
	}

	data, filename, err := s.readUpload(w, r)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}
	if ingestion.DetectFormat(filename) != ingestion.FormatPDF {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s is not a pdf", ingestion.ErrUnsupportedFormat, filename))
		return
	}

	doc, err := s.deps.Extractor.Extract(data)
	if err != nil {
		var docErr *pdftext.DocumentError
		if errors.As(err, &docErr) {
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("extract text: %w", err))
		return
	}

	po := ingestion.ParsePurchaseOrder(doc.AllLines())
	s.logger.Info().Str("source", filename).Str("po_number", po.Number).Int("items", len(po.Items)).
		Int("skipped", po.Skipped).Msg("purchase order extracted")
	s.writeJSON(w, http.StatusOK, extractResponse{Source: filename, Document: doc, PurchaseOrder: po})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}
	if s.deps.Clear == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("clear is not configured"))
		return
	}

	if err := s.deps.Clear(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear data: %w", err))
		return
	}

	s.logger.Info().Str("user_id", authz.CallerFromContext(r.Context()).UserID).Msg("ingested data cleared")
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ingested data cleared"})
}

// readUpload reads the multipart "file" part, capped at the configured size.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := s.cfg.Ingest.MaxUploadBytes
	if r.ContentLength > limit {
		return nil, "", &http.MaxBytesError{Limit: limit}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, "", err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("%w: file is required", ingestion.ErrInvalidUpload)
	}
	defer file.Close()

	data, err := readAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

func readAll(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
}

func uploadFromForm(r *http.Request) (ingestion.Upload, error) {
	form := func(key string) string { return strings.TrimSpace(r.FormValue(key)) }

	period := ingestion.Period{Type: strings.ToLower(form("period_type"))}
	if period.Type == "" {
		period.Type = ingestion.PeriodDaily
	}
	for key, dst := range map[string]*time.Time{
		"report_date":  &period.ReportDate,
		"period_start": &period.Start,
		"period_end":   &period.End,
	} {
		v := form(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return ingestion.Upload{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", ingestion.ErrInvalidUpload, key)
		}
		*dst = t
	}

	return ingestion.Upload{
		Platform:     strings.ToLower(form("platform")),
		Dataset:      strings.ToLower(form("dataset")),
		BusinessUnit: form("business_unit"),
		Period:       period,
	}, nil
}

var anyUpload = authz.AnyOf(authz.UploadInventory, authz.UploadSecondarySales)

// uploadRequirement maps a dataset to the permission needed to upload it.
func uploadRequirement(dataset string) authz.Requirement {
	if dataset == ingestion.DatasetInventory {
		return authz.Single(authz.UploadInventory)
	}
	return authz.Single(authz.UploadSecondarySales)
}

func ingestStatus(err error) int {
	var formatErr *ingestion.FormatError
	switch {
	case errors.Is(err, ingestion.ErrUnknownSchema):
		return http.StatusNotFound
	case errors.Is(err, ingestion.ErrInvalidUpload),
		errors.Is(err, ingestion.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.As(err, &formatErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	entry := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		entry = s.logger.Error()
	}
	entry.Int("status", status).Err(err).Msg("api error")
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
