package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phuslu/log"
)

// Period types accepted on upload.
const (
	PeriodDaily = "daily"
	PeriodRange = "range"
)

// Period describes the reporting window an upload covers.
type Period struct {
	Type       string    `json:"periodType" validate:"required,oneof=daily range"`
	ReportDate time.Time `json:"reportDate,omitempty" validate:"required_if=Type daily"`
	Start      time.Time `json:"periodStart,omitempty" validate:"required_if=Type range"`
	End        time.Time `json:"periodEnd,omitempty" validate:"required_if=Type range"`
}

// Upload is one report file plus the metadata the uploader supplied.
type Upload struct {
	Platform     string `validate:"required"`
	Dataset      string `validate:"required"`
	BusinessUnit string
	Period       Period
	SourceName   string `validate:"required"`
	Data         []byte `validate:"required"`
}

// Batch is the unit handed to the persistence collaborator.
type Batch struct {
	ID           uuid.UUID
	Platform     string
	Dataset      string
	BusinessUnit string
	Period       Period
	SourceName   string
	SHA256       string
	Key          string
	Records      []Record
	Dropped      int
	Summary      Summary
	CreatedAt    time.Time
}

// Result is returned to the caller of Ingest.
type Result struct {
	Batch     Batch
	Duplicate bool
	Stored    bool
}

// Store persists normalized batches.
type Store interface {
	HasBatch(ctx context.Context, platform, dataset, sha string) (bool, error)
	SaveBatch(ctx context.Context, batch Batch) error
}

// GraphSink mirrors a stored batch into a graph of platforms, SKUs and cities.
type GraphSink interface {
	SyncBatch(ctx context.Context, batch Batch) error
}

// Event is a progress notification emitted while ingesting.
type Event struct {
	Stage   string
	BatchID uuid.UUID
	Count   int
}

// Observer receives progress events. It must not block.
type Observer func(Event)

// Option configures a Service.
type Option func(*Service)

// WithGraphSink mirrors stored batches into sink.
func WithGraphSink(sink GraphSink) Option {
	return func(s *Service) { s.graph = sink }
}

// WithObserver registers a progress callback.
func WithObserver(fn Observer) Option {
	return func(s *Service) { s.observer = fn }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store    Store
	graph    GraphSink
	observer Observer
	logger   *log.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds an ingestion service. A nil store turns Ingest into a dry
// run that decodes and summarizes without persisting.
func NewService(store Store, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = &log.DefaultLogger
	}

	s := &Service{
		store:    store,
		logger:   logger,
		validate: structValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestFile reads path and ingests it with the metadata in upload.
func (s *Service) IngestFile(ctx context.Context, path string, upload Upload) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	upload.Data = data
	if upload.SourceName == "" {
		upload.SourceName = filepath.Base(path)
	}
	return s.Ingest(ctx, upload)
}

// Ingest decodes an uploaded report, summarizes it and stores the batch.
func (s *Service) Ingest(ctx context.Context, upload Upload) (*Result, error) {
	if err := s.validateUpload(upload); err != nil {
		return nil, err
	}

	if format := DetectFormat(upload.SourceName); format != FormatCSV {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, upload.SourceName)
	}

	schema, err := Lookup(upload.Platform, upload.Dataset)
	if err != nil {
		return nil, err
	}

	decoded, err := Decode(upload.Data, schema)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s report: %w", schema.Platform, schema.Dataset, err)
	}

	hash := sha256.Sum256(upload.Data)
	batch := Batch{
		ID:           uuid.New(),
		Platform:     schema.Platform,
		Dataset:      schema.Dataset,
		BusinessUnit: strings.TrimSpace(upload.BusinessUnit),
		Period:       upload.Period,
		SourceName:   upload.SourceName,
		SHA256:       hex.EncodeToString(hash[:]),
		Key:          schema.Key,
		Records:      decoded.Records,
		Dropped:      decoded.Dropped,
		CreatedAt:    s.now().UTC(),
	}
	s.emit(Event{Stage: "decoded", BatchID: batch.ID, Count: len(batch.Records)})
	if decoded.Dropped > 0 {
		s.logger.Warn().Str("platform", schema.Platform).Str("dataset", schema.Dataset).
			Int("dropped", decoded.Dropped).Str("key", schema.Key).Msg("rows without identifying key skipped")
	}

	batch.Summary = Summarize(batch.Records, schema.Summary)
	s.emit(Event{Stage: "summarized", BatchID: batch.ID, Count: batch.Summary.Total})

	result := &Result{Batch: batch}
	if s.store == nil {
		s.logger.Info().Str("source", batch.SourceName).Int("records", len(batch.Records)).Msg("dry run, batch not stored")
		return result, nil
	}

	exists, err := s.store.HasBatch(ctx, batch.Platform, batch.Dataset, batch.SHA256)
	if err != nil {
		return nil, fmt.Errorf("check existing batch: %w", err)
	}
	if exists {
		return s.skipDuplicate(result), nil
	}

	if err := s.store.SaveBatch(ctx, batch); err != nil {
		// lost a race with an identical upload
		if errors.Is(err, ErrDuplicateBatch) {
			return s.skipDuplicate(result), nil
		}
		return nil, fmt.Errorf("save batch: %w", err)
	}
	result.Stored = true
	s.emit(Event{Stage: "stored", BatchID: batch.ID, Count: len(batch.Records)})

	if s.graph != nil {
		// the batch is already committed; a graph failure is reported, not fatal
		if err := s.graph.SyncBatch(ctx, batch); err != nil {
			s.logger.Error().Err(err).Str("batch", batch.ID.String()).Msg("sync knowledge graph")
		} else {
			s.emit(Event{Stage: "graph_synced", BatchID: batch.ID, Count: len(batch.Records)})
		}
	}

	s.logger.Info().Str("platform", batch.Platform).Str("dataset", batch.Dataset).
		Str("batch", batch.ID.String()).Int("records", len(batch.Records)).Msg("ingested report")
	return result, nil
}

func (s *Service) skipDuplicate(result *Result) *Result {
	result.Duplicate = true
	s.emit(Event{Stage: "skipped_duplicate", BatchID: result.Batch.ID})
	s.logger.Info().Str("source", result.Batch.SourceName).Str("sha256", result.Batch.SHA256).
		Msg("no updates required, report already ingested")
	return result
}

func (s *Service) validateUpload(upload Upload) error {
	if err := s.validate.Struct(upload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidUpload, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if upload.Period.Type == PeriodRange && upload.Period.End.Before(upload.Period.Start) {
		return fmt.Errorf("%w: period end before start", ErrInvalidUpload)
	}
	return nil
}

func (s *Service) emit(e Event) {
	if s.observer != nil {
		s.observer(e)
	}
}
