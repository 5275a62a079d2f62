package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/retail-ingest/authz"
	"github.com/fabfab/retail-ingest/config"
	"github.com/fabfab/retail-ingest/ingestion"
	"github.com/fabfab/retail-ingest/pdftext"
)

type stubIngester struct {
	uploads []ingestion.Upload
	err     error
}

func (s *stubIngester) Ingest(_ context.Context, upload ingestion.Upload) (*ingestion.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.uploads = append(s.uploads, upload)
	return &ingestion.Result{
		Stored: true,
		Batch: ingestion.Batch{
			ID:         uuid.MustParse("4c3c9a52-5b43-4f43-9a3b-0f1c0a7a5e11"),
			Platform:   upload.Platform,
			Dataset:    upload.Dataset,
			SourceName: upload.SourceName,
			Records:    []ingestion.Record{{"sku_code": "ZP-1"}},
			Summary:    ingestion.Summary{Total: 1, Sums: map[string]float64{"totalUnits": 4}},
		},
	}, nil
}

var _ Ingester = (*stubIngester)(nil)

type stubExtractor struct {
	doc *pdftext.Document
	err error
}

func (s *stubExtractor) Extract([]byte) (*pdftext.Document, error) {
	return s.doc, s.err
}

var _ TextExtractor = (*stubExtractor)(nil)

type staticProvider map[string]*authz.Caller

func (p staticProvider) LookupCaller(_ context.Context, userID string) (*authz.Caller, error) {
	return p[userID], nil
}

var users = staticProvider{
	"stock":   {UserID: "stock", Role: "viewer", Permissions: authz.NewPermissionSet(authz.UploadInventory, authz.ViewInventory)},
	"sales":   {UserID: "sales", Role: "viewer", Permissions: authz.NewPermissionSet(authz.UploadSecondarySales)},
	"po":      {UserID: "po", Role: "viewer", Permissions: authz.NewPermissionSet(authz.UploadPlatformPO)},
	"admin":   {UserID: "admin", Role: "admin"},
	"nothing": {UserID: "nothing", Role: "viewer"},
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RateLimit = config.RateLimitConfig{}
	cfg.Ingest.MaxUploadBytes = 1 << 20
	return cfg
}

func newTestServer(cfg config.Config, deps Dependencies) *Server {
	if deps.Permissions == nil {
		deps.Permissions = users
	}
	return New(cfg, deps, &log.Logger{Level: log.PanicLevel, Writer: &log.IOWriter{Writer: io.Discard}})
}

func multipartRequest(t *testing.T, path, user string, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != "" {
		req.Header.Set(authz.UserIDHeader, user)
	}
	return req
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(testConfig(), Dependencies{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())

	rec = do(s, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestSchemas(t *testing.T) {
	s := newTestServer(testConfig(), Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/v1/schemas", nil)
	req.Header.Set(authz.UserIDHeader, "stock")
	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var schemas []struct {
		Platform string `json:"platform"`
		Dataset  string `json:"dataset"`
		Key      string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schemas))
	assert.Len(t, schemas, len(ingestion.Schemas()))

	req = httptest.NewRequest(http.MethodGet, "/v1/schemas", nil)
	req.Header.Set(authz.UserIDHeader, "po")
	assert.Equal(t, http.StatusForbidden, do(s, req).Code)

	assert.Equal(t, http.StatusUnauthorized, do(s, httptest.NewRequest(http.MethodGet, "/v1/schemas", nil)).Code)
}

func TestIngest(t *testing.T) {
	fields := map[string]string{
		"platform":      "Zepto",
		"dataset":       "inventory",
		"business_unit": "north",
		"period_type":   "daily",
		"report_date":   "2024-05-01",
	}
	csv := []byte("SKU Code,Units\nZP-1,4\n")

	t.Run("stores upload", func(t *testing.T) {
		ingester := &stubIngester{}
		s := newTestServer(testConfig(), Dependencies{Ingester: ingester})

		rec := do(s, multipartRequest(t, "/v1/ingest", "stock", fields, "zepto.csv", csv))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp ingestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "4c3c9a52-5b43-4f43-9a3b-0f1c0a7a5e11", resp.BatchID)
		assert.Equal(t, 1, resp.Records)
		assert.True(t, resp.Stored)
		assert.Equal(t, 4.0, resp.Summary.Sums["totalUnits"])

		require.Len(t, ingester.uploads, 1)
		up := ingester.uploads[0]
		assert.Equal(t, "zepto", up.Platform)
		assert.Equal(t, "north", up.BusinessUnit)
		assert.Equal(t, "zepto.csv", up.SourceName)
		assert.Equal(t, csv, up.Data)
		assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), up.Period.ReportDate)
	})

	t.Run("dataset decides permission", func(t *testing.T) {
		s := newTestServer(testConfig(), Dependencies{Ingester: &stubIngester{}})

		sales := map[string]string{"platform": "zepto", "dataset": "secondary_sales", "report_date": "2024-05-01"}
		assert.Equal(t, http.StatusForbidden, do(s, multipartRequest(t, "/v1/ingest", "stock", sales, "s.csv", csv)).Code)
		assert.Equal(t, http.StatusCreated, do(s, multipartRequest(t, "/v1/ingest", "sales", sales, "s.csv", csv)).Code)
		assert.Equal(t, http.StatusForbidden, do(s, multipartRequest(t, "/v1/ingest", "sales", fields, "i.csv", csv)).Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		s := newTestServer(testConfig(), Dependencies{Ingester: &stubIngester{}})
		rec := do(s, multipartRequest(t, "/v1/ingest", "", fields, "zepto.csv", csv))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		s := newTestServer(testConfig(), Dependencies{Ingester: &stubIngester{}})
		rec := do(s, multipartRequest(t, "/v1/ingest", "stock", fields, "", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad date", func(t *testing.T) {
		s := newTestServer(testConfig(), Dependencies{Ingester: &stubIngester{}})
		bad := map[string]string{"platform": "zepto", "dataset": "inventory", "report_date": "01/05/2024"}
		rec := do(s, multipartRequest(t, "/v1/ingest", "stock", bad, "zepto.csv", csv))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "report_date")
	})

	t.Run("upload too large", func(t *testing.T) {
		cfg := testConfig()
		cfg.Ingest.MaxUploadBytes = 64
		s := newTestServer(cfg, Dependencies{Ingester: &stubIngester{}})
		rec := do(s, multipartRequest(t, "/v1/ingest", "stock", fields, "zepto.csv", bytes.Repeat([]byte("x"), 4096)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("caller without upload permission is rejected before reading", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
		ingester := &stubIngester{}
		s := newTestServer(cfg, Dependencies{Ingester: ingester})

		rec := do(s, multipartRequest(t, "/v1/ingest", "nothing", fields, "zepto.csv", csv))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, ingester.uploads)

		assert.Equal(t, http.StatusCreated, do(s, multipartRequest(t, "/v1/ingest", "stock", fields, "zepto.csv", csv)).Code,
			"the rejected request did not consume the only token")
	})

	t.Run("rate limited", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
		s := newTestServer(cfg, Dependencies{Ingester: &stubIngester{}})

		assert.Equal(t, http.StatusCreated, do(s, multipartRequest(t, "/v1/ingest", "stock", fields, "zepto.csv", csv)).Code)
		assert.Equal(t, http.StatusTooManyRequests, do(s, multipartRequest(t, "/v1/ingest", "stock", fields, "zepto.csv", csv)).Code)
	})
}

func TestIngestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown schema", ingestion.ErrUnknownSchema, http.StatusNotFound},
		{"invalid upload", ingestion.ErrInvalidUpload, http.StatusBadRequest},
		{"unsupported format", ingestion.ErrUnsupportedFormat, http.StatusBadRequest},
		{"malformed csv", &ingestion.FormatError{Line: 3, Err: errors.New("bare quote")}, http.StatusUnprocessableEntity},
		{"store failure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(testConfig(), Dependencies{Ingester: &stubIngester{err: tt.err}})
			fields := map[string]string{"platform": "zepto", "dataset": "inventory"}
			rec := do(s, multipartRequest(t, "/v1/ingest", "stock", fields, "zepto.csv", []byte("x")))
			assert.Equal(t, tt.want, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.True(t, strings.HasPrefix(body.Error, "ingestion failed: "))
		})
	}
}

func TestExtract(t *testing.T) {
	doc := &pdftext.Document{
		Text:      "PO 991\nTotal 12\n",
		PageCount: 1,
		Pages:     []pdftext.PageText{{Number: 1, Lines: []string{"PO 991", "Total 12"}}},
	}

	t.Run("returns text", func(t *testing.T) {
		s := newTestServer(testConfig(), Dependencies{Extractor: &stubExtractor{doc: doc}})
		rec := do(s, multipartRequest(t, "/v1/po/extract", "po", nil, "po.pdf", []byte("%PDF-1.4")))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "po.pdf", body["source"])
		assert.Equal(t, doc.Text, body["text"])
		assert.Equal(t, 1.0, body["pageCount"])
	})

	t.Run("parses purchase order items", func(t *testing.T) {
		poDoc := &pdftext.Document{
			PageCount: 2,
			Pages: []pdftext.PageText{
				{Number: 1, Lines: []string{"P.O. Number : 4410023491", "# Item Code HSN Code Description Qty Total Amount"}},
				{Number: 2, Lines: []string{
					"1 10153586 15099090 8908002584019 Jivo Pomace Olive Oil (1 l) 400.00 5.00 0.00 0.00 20.00 420.00 12 999.00 57.96 5040.00",
					"Total Quantity 12",
				}},
			},
		}
		s := newTestServer(testConfig(), Dependencies{Extractor: &stubExtractor{doc: poDoc}})
		rec := do(s, multipartRequest(t, "/v1/po/extract", "po", nil, "po.pdf", []byte("%PDF-1.4")))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			PurchaseOrder ingestion.PurchaseOrder `json:"purchaseOrder"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		po := body.PurchaseOrder
		assert.Equal(t, "4410023491", po.Number)
		require.Len(t, po.Items, 1)
		assert.Equal(t, "10153586", po.Items[0].String(ingestion.POFieldItemCode))
		assert.Equal(t, 12.0, po.Summary.Sums["totalQuantity"])
		assert.Equal(t, 5040.0, po.Summary.Sums["totalAmount"])
		assert.EqualValues(t, 12, po.StatedQuantity)
	})

	t.Run("requires permission", func(t *testing.T) {
		s := newTestServer(testConfig(), Dependencies{Extractor: &stubExtractor{doc: doc}})
		rec := do(s, multipartRequest(t, "/v1/po/extract", "stock", nil, "po.pdf", []byte("%PDF-1.4")))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects non pdf", func(t *testing.T) {
		s := newTestServer(testConfig(), Dependencies{Extractor: &stubExtractor{doc: doc}})
		rec := do(s, multipartRequest(t, "/v1/po/extract", "po", nil, "po.csv", []byte("a,b")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unreadable document", func(t *testing.T) {
		s := newTestServer(testConfig(), Dependencies{Extractor: &stubExtractor{err: &pdftext.DocumentError{Err: errors.New("no pages")}}})
		rec := do(s, multipartRequest(t, "/v1/po/extract", "admin", nil, "po.pdf", []byte("junk")))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestClear(t *testing.T) {
	var cleared int
	clearAll := func(context.Context) error {
		cleared++
		return nil
	}
	s := newTestServer(testConfig(), Dependencies{Clear: clearAll})

	post := func(user, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/clear", strings.NewReader(body))
		req.Header.Set(authz.UserIDHeader, user)
		return do(s, req)
	}

	assert.Equal(t, http.StatusForbidden, post("stock", `{"confirm":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("admin", `{"confirm":false}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("admin", `{"confirm":true,"extra":1}`).Code)
	assert.Zero(t, cleared)

	rec := post("admin", `{"confirm":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cleared)
}
