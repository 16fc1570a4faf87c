// Package batch is the batch identity and traceability core: code generation,
// atomic creation, provenance resolution, one-time QR issuance, status
// transitions and per-cooperative statistics.
package batch

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/metrics"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/qr"
	"coffee-trace-api-server/internal/store"
)

const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultCodeAttempts = 3
	// RecentWindowDays is the trailing window for recent batch counts.
	RecentWindowDays = 30
)

// Notifier is told about batch writes after they commit.
type Notifier interface {
	BatchCreated(b *models.HarvestBatch)
	BatchStatusChanged(b *models.HarvestBatch, from models.Status)
}

// ArtifactCache holds issued artifacts by batch code. Artifacts never change
// once stored, so entries are not invalidated.
type ArtifactCache interface {
	Get(ctx context.Context, batchCode string) (*models.QRArtifact, bool, error)
	Set(ctx context.Context, art *models.QRArtifact) error
}

// Synthesizer renders the QR image for a batch code.
type Synthesizer interface {
	Synthesize(batchCode string) (*qr.Image, error)
}

// Publisher copies an issued QR image to object storage.
type Publisher interface {
	PublishQR(ctx context.Context, batchCode string, png []byte) (string, error)
}

// Options configures a Service. Store and Synthesizer are required; the rest
// are optional.
type Options struct {
	Store        store.Store
	Synthesizer  Synthesizer
	Codes        CodeGenerator
	Cache        ArtifactCache
	Publisher    Publisher
	Notifier     Notifier
	Metrics      *metrics.Metrics
	QueryTimeout time.Duration
	// CodeAttempts bounds batch code generation when the store reports a
	// batch_code collision.
	CodeAttempts uint
	RetryDelay   time.Duration
	Now          func() time.Time
}

type Service struct {
	store      store.Store
	synth      Synthesizer
	codes      CodeGenerator
	cache      ArtifactCache
	publisher  Publisher
	notifier   Notifier
	metrics    *metrics.Metrics
	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
	now        func() time.Time

	flight singleflight.Group
}

func NewService(opts Options) *Service {
	s := &Service{
		store:      opts.Store,
		synth:      opts.Synthesizer,
		codes:      opts.Codes,
		cache:      opts.Cache,
		publisher:  opts.Publisher,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		timeout:    opts.QueryTimeout,
		attempts:   opts.CodeAttempts,
		retryDelay: opts.RetryDelay,
		now:        opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.codes == nil {
		s.codes = NewCodeGenerator(s.now)
	}
	if s.timeout <= 0 {
		s.timeout = DefaultQueryTimeout
	}
	if s.attempts == 0 {
		s.attempts = DefaultCodeAttempts
	}
	if s.retryDelay <= 0 {
		s.retryDelay = time.Millisecond
	}
	return s
}

// query runs fn under the per-call store deadline.
func query[T any](ctx context.Context, s *Service, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

// asStorage classifies bare context errors that escaped the store.
func asStorage(op string, err error) error {
	if err == nil || apperror.KindOf(err) != apperror.KindInternal {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperror.Storage(op, err)
	}
	return err
}

// CreateBatchInput is a farmer-initiated harvest record.
type CreateBatchInput struct {
	FarmerID int64
	// CooperativeID is optional. When set it must name the farmer's cooperative.
	CooperativeID    int64
	HarvestDate      time.Time
	QuantityKg       float64
	QualityGrade     string
	Variety          string
	ProcessingMethod string
	Notes            string
}

func (in CreateBatchInput) Validate() error {
	const op = "batch.CreateBatchInput.Validate"
	if in.FarmerID <= 0 {
		return apperror.Invalid(op, "farmer_id is required")
	}
	if in.HarvestDate.IsZero() {
		return apperror.Invalid(op, "harvest_date is required")
	}
	if math.IsNaN(in.QuantityKg) || math.IsInf(in.QuantityKg, 0) || in.QuantityKg <= 0 {
		return apperror.Invalid(op, "quantity_kg must be greater than zero")
	}
	return nil
}

// dateOnly drops the clock part of a harvest date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateBatch persists a new batch with a freshly generated code. The batch
// always belongs to the farmer's cooperative; a caller naming a different
// cooperative gets a Conflict. A code collision is retried with a new code a
// bounded number of times and then reported as a Conflict on batch_code.
func (s *Service) CreateBatch(ctx context.Context, in CreateBatchInput) (*models.HarvestBatch, error) {
	const op = "batch.CreateBatch"
	if err := in.Validate(); err != nil {
		return nil, err
	}

	farmer, err := query(ctx, s, func(ctx context.Context) (*models.Farmer, error) {
		return s.store.GetFarmer(ctx, in.FarmerID)
	})
	if err != nil {
		return nil, asStorage(op, err)
	}
	if in.CooperativeID != 0 && in.CooperativeID != farmer.CooperativeID {
		return nil, apperror.Conflict(op, "farmer %d belongs to cooperative %d, not %d",
			farmer.ID, farmer.CooperativeID, in.CooperativeID)
	}

	attempt := func() (*models.HarvestBatch, error) {
		b := &models.HarvestBatch{
			BatchCode:        s.codes.Next(farmer.CooperativeID, farmer.ID),
			FarmerID:         farmer.ID,
			CooperativeID:    farmer.CooperativeID,
			HarvestDate:      dateOnly(in.HarvestDate),
			QuantityKg:       in.QuantityKg,
			QualityGrade:     strings.TrimSpace(in.QualityGrade),
			Variety:          strings.TrimSpace(in.Variety),
			ProcessingMethod: strings.TrimSpace(in.ProcessingMethod),
			Notes:            in.Notes,
			Status:           models.StatusLogged,
		}
		_, err := query(ctx, s, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.CreateBatch(ctx, b)
		})
		if err == nil {
			return b, nil
		}
		if apperror.KindOf(err) == apperror.KindConflict && apperror.FieldOf(err) == apperror.FieldBatchCode {
			s.metrics.BatchCodeRetry()
			log.Warn().Str("batch_code", b.BatchCode).Int64("farmer_id", farmer.ID).Msg("Batch code collision, regenerating")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	b, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryDelay)),
		backoff.WithMaxTries(s.attempts),
	)
	if err != nil {
		return nil, asStorage(op, err)
	}

	s.metrics.BatchCreated()
	log.Info().
		Int64("batch_id", b.ID).
		Str("batch_code", b.BatchCode).
		Int64("cooperative_id", b.CooperativeID).
		Float64("quantity_kg", b.QuantityKg).
		Msg("Harvest batch logged")
	if s.notifier != nil {
		s.notifier.BatchCreated(b)
	}
	return b, nil
}

// GetBatch returns the batch row with the given surrogate id.
func (s *Service) GetBatch(ctx context.Context, id int64) (*models.HarvestBatch, error) {
	b, err := query(ctx, s, func(ctx context.Context) (*models.HarvestBatch, error) {
		return s.store.GetBatch(ctx, id)
	})
	return b, asStorage("batch.GetBatch", err)
}

// ListBatches returns batches matching filter, newest harvest first.
func (s *Service) ListBatches(ctx context.Context, filter store.BatchFilter) ([]models.BatchListItem, error) {
	const op = "batch.ListBatches"
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperror.Invalid(op, "unknown status %q", filter.Status)
	}
	items, err := query(ctx, s, func(ctx context.Context) ([]models.BatchListItem, error) {
		return s.store.ListBatches(ctx, filter)
	})
	return items, asStorage(op, err)
}

// ResolveBatch looks a batch up by surrogate id or public code and returns it
// with its farmer and cooperative sections. Missing related records leave the
// sections nil.
func (s *Service) ResolveBatch(ctx context.Context, identifier string) (*models.TracedBatch, error) {
	const op = "batch.ResolveBatch"
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperror.Invalid(op, "identifier is required")
	}
	traced, err := query(ctx, s, func(ctx context.Context) (*models.TracedBatch, error) {
		return s.store.ResolveBatch(ctx, identifier)
	})
	return traced, asStorage(op, err)
}

// EnsureQRArtifact returns the batch's QR artifact, issuing and persisting it
// on first use. Concurrent first requests all receive the single stored value.
func (s *Service) EnsureQRArtifact(ctx context.Context, batchID int64) (*models.QRArtifact, error) {
	const op = "batch.EnsureQRArtifact"

	// the leader's cancellation must not fail the callers sharing its result
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := s.flight.Do(strconv.FormatInt(batchID, 10), func() (any, error) {
		return s.ensureQRArtifact(flightCtx, batchID)
	})
	if err != nil {
		return nil, asStorage(op, err)
	}
	art := v.(*models.QRArtifact)
	if shared {
		cp := *art
		art = &cp
	}
	return art, nil
}

func (s *Service) ensureQRArtifact(ctx context.Context, batchID int64) (*models.QRArtifact, error) {
	const op = "batch.EnsureQRArtifact"

	b, err := query(ctx, s, func(ctx context.Context) (*models.HarvestBatch, error) {
		return s.store.GetBatch(ctx, batchID)
	})
	if err != nil {
		return nil, err
	}
	if b.HasArtifact() {
		s.metrics.QRArtifact("existing")
		art := &models.QRArtifact{BatchID: b.ID, BatchCode: b.BatchCode, DataURI: b.QRCodeArtifact}
		s.fillCache(ctx, art)
		return art, nil
	}

	// A cached entry for this code was issued for this very batch but never
	// reached the row (the store was reset); persist it instead of re-rendering.
	if hit, ok := s.cached(ctx, b.BatchCode); ok {
		stored, err := query(ctx, s, func(ctx context.Context) (string, error) {
			return s.store.SetQRArtifactIfAbsent(ctx, b.ID, hit.DataURI)
		})
		if err != nil {
			return nil, err
		}
		s.metrics.QRArtifact("cached")
		return &models.QRArtifact{BatchID: b.ID, BatchCode: b.BatchCode, DataURI: stored}, nil
	}

	img, err := s.synth.Synthesize(b.BatchCode)
	if err != nil {
		s.metrics.QRArtifact("failed")
		return nil, apperror.Artifact(op, err)
	}

	stored, err := query(ctx, s, func(ctx context.Context) (string, error) {
		return s.store.SetQRArtifactIfAbsent(ctx, b.ID, img.DataURI)
	})
	if err != nil {
		return nil, err
	}

	if stored == img.DataURI {
		s.metrics.QRArtifact("issued")
		log.Info().Int64("batch_id", b.ID).Str("batch_code", b.BatchCode).Str("url", img.URL).Msg("QR artifact issued")
		s.publish(ctx, b.BatchCode, img.PNG)
	} else {
		s.metrics.QRArtifact("existing")
	}

	art := &models.QRArtifact{BatchID: b.ID, BatchCode: b.BatchCode, DataURI: stored}
	s.fillCache(ctx, art)
	return art, nil
}

func (s *Service) cached(ctx context.Context, batchCode string) (*models.QRArtifact, bool) {
	if s.cache == nil {
		return nil, false
	}
	art, ok, err := s.cache.Get(ctx, batchCode)
	if err != nil {
		log.Warn().Err(err).Str("batch_code", batchCode).Msg("QR cache read failed")
		return nil, false
	}
	if !ok || art.BatchCode != batchCode || art.DataURI == "" {
		return nil, false
	}
	return art, true
}

func (s *Service) fillCache(ctx context.Context, art *models.QRArtifact) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, art); err != nil {
		log.Warn().Err(err).Str("batch_code", art.BatchCode).Msg("QR cache write failed")
	}
}

// publish is best effort; the stored artifact is the source of truth.
func (s *Service) publish(ctx context.Context, batchCode string, png []byte) {
	if s.publisher == nil {
		return
	}
	url, err := s.publisher.PublishQR(ctx, batchCode, png)
	if err != nil {
		log.Error().Err(err).Str("batch_code", batchCode).Msg("Failed to publish QR image")
		return
	}
	log.Debug().Str("batch_code", batchCode).Str("url", url).Msg("Published QR image")
}

// TransitionStatus moves a batch forward in its lifecycle. Backward, same-state
// and unknown targets fail with a State error, as does a concurrent change of
// the current status.
func (s *Service) TransitionStatus(ctx context.Context, batchID int64, to models.Status) (*models.HarvestBatch, error) {
	const op = "batch.TransitionStatus"
	if !to.Valid() {
		return nil, apperror.State(op, "unknown status %q", to)
	}

	b, err := query(ctx, s, func(ctx context.Context) (*models.HarvestBatch, error) {
		return s.store.GetBatch(ctx, batchID)
	})
	if err != nil {
		return nil, asStorage(op, err)
	}
	from := b.Status
	if !from.CanTransitionTo(to) {
		return nil, apperror.State(op, "batch %d cannot move from %s to %s", batchID, from, to)
	}

	_, err = query(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.UpdateBatchStatus(ctx, batchID, from, to)
	})
	if err != nil {
		return nil, asStorage(op, err)
	}

	b.Status = to
	s.metrics.StatusTransition(string(to))
	log.Info().Int64("batch_id", b.ID).Str("from", string(from)).Str("to", string(to)).Msg("Batch status changed")
	if s.notifier != nil {
		s.notifier.BatchStatusChanged(b, from)
	}
	return b, nil
}

// AggregateStats rolls up a cooperative's farmers and batches. Recent batches
// are those harvested on or after the start of the UTC day 30 days ago.
func (s *Service) AggregateStats(ctx context.Context, cooperativeID int64) (*models.CooperativeStats, error) {
	const op = "batch.AggregateStats"
	if cooperativeID <= 0 {
		return nil, apperror.Invalid(op, "cooperative_id is required")
	}
	since := store.RecentCutoff(s.now(), RecentWindowDays)
	stats, err := query(ctx, s, func(ctx context.Context) (*models.CooperativeStats, error) {
		return s.store.AggregateStats(ctx, cooperativeID, since)
	})
	return stats, asStorage(op, err)
}
