package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/qr"
	"coffee-trace-api-server/internal/store"
	"coffee-trace-api-server/internal/store/memory"
	"coffee-trace-api-server/internal/store/storetest"
)

const baseURL = "https://trace.example.com"

type fixedCodes struct {
	codes []string
	calls atomic.Int32
}

func (f *fixedCodes) Next(_, _ int64) string {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.codes) {
		n = len(f.codes) - 1
	}
	return f.codes[n]
}

type countingSynth struct {
	calls atomic.Int32
	err   error
}

// Synthesize returns a distinct payload per call so tests can tell winners apart.
func (c *countingSynth) Synthesize(batchCode string) (*qr.Image, error) {
	n := c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	png := []byte(fmt.Sprintf("%s#%d", batchCode, n))
	return &qr.Image{URL: baseURL + "/batch/" + batchCode, PNG: png, DataURI: qr.DataURI(png)}, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	created []string
	changed []string
}

func (r *recordingNotifier) BatchCreated(b *models.HarvestBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, b.BatchCode)
}

func (r *recordingNotifier) BatchStatusChanged(b *models.HarvestBatch, from models.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, fmt.Sprintf("%s:%s->%s", b.BatchCode, from, b.Status))
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]*models.QRArtifact
}

func (m *mapCache) Get(_ context.Context, code string) (*models.QRArtifact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data[code]
	return a, ok, nil
}

func (m *mapCache) Set(_ context.Context, a *models.QRArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]*models.QRArtifact{}
	}
	if _, ok := m.data[a.BatchCode]; !ok {
		m.data[a.BatchCode] = a
	}
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	codes []string
	err   error
}

func (p *recordingPublisher) PublishQR(_ context.Context, batchCode string, _ []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, batchCode)
	if p.err != nil {
		return "", p.err
	}
	return "https://cdn.example.com/qr/" + batchCode + ".png", nil
}

func newTestService(t *testing.T, st store.Store, mutate ...func(*Options)) *Service {
	t.Helper()
	opts := Options{
		Store:       st,
		Synthesizer: qr.NewEncoder(baseURL, 300),
		RetryDelay:  time.Microsecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewService(opts)
}

func harvestInput(farmer *models.Farmer, kg float64) CreateBatchInput {
	return CreateBatchInput{
		FarmerID:     farmer.ID,
		HarvestDate:  storetest.Day(2025, 1, 15),
		QuantityKg:   kg,
		QualityGrade: "A",
		Variety:      "Catuai",
	}
}

func TestCreateBatchHonduranExample(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	require.Equal(t, int64(1), fx.Coop.ID)

	svc := newTestService(t, st)
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 150.5))
	require.NoError(t, err)

	assert.Equal(t, models.StatusLogged, b.Status)
	assert.Equal(t, fx.Coop.ID, b.CooperativeID)
	assert.Regexp(t, fmt.Sprintf(`^BATCH-1-%d-\d+$`, fx.Farmer.ID), b.BatchCode)

	traced, err := svc.ResolveBatch(ctx, b.BatchCode)
	require.NoError(t, err)
	assert.Equal(t, b.ID, traced.ID)
	assert.Equal(t, 150.5, traced.QuantityKg)
	assert.Equal(t, "A", traced.QualityGrade)
	require.NotNil(t, traced.Cooperative)
	assert.Equal(t, "Honduras Coffee Growers Cooperative", traced.Cooperative.Name)
	require.NotNil(t, traced.Farmer)
	assert.Equal(t, "HN-001", traced.Farmer.FarmerCode)
}

func TestCreateBatchCooperativeMatchesFarmer(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	other := &models.Cooperative{Name: "Other Cooperative", Country: "Peru"}
	require.NoError(t, st.CreateCooperative(ctx, other))
	svc := newTestService(t, st)

	t.Run("omitted cooperative is derived", func(t *testing.T) {
		b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 10))
		require.NoError(t, err)
		assert.Equal(t, fx.Farmer.CooperativeID, b.CooperativeID)
	})

	t.Run("matching cooperative is accepted", func(t *testing.T) {
		in := harvestInput(fx.Farmer, 10)
		in.CooperativeID = fx.Coop.ID
		b, err := svc.CreateBatch(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, fx.Coop.ID, b.CooperativeID)
	})

	t.Run("mismatched cooperative is rejected", func(t *testing.T) {
		in := harvestInput(fx.Farmer, 10)
		in.CooperativeID = other.ID
		_, err := svc.CreateBatch(ctx, in)
		require.Error(t, err)
		assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
		assert.False(t, apperror.IsRetryable(err))

		items, err := svc.ListBatches(ctx, store.BatchFilter{CooperativeID: other.ID})
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	all, err := svc.ListBatches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	for _, item := range all {
		assert.Equal(t, fx.Farmer.CooperativeID, item.CooperativeID)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	svc := newTestService(t, st)

	tests := []struct {
		name   string
		mutate func(in *CreateBatchInput)
		kind   apperror.Kind
	}{
		{"missing farmer", func(in *CreateBatchInput) { in.FarmerID = 0 }, apperror.KindInvalid},
		{"missing harvest date", func(in *CreateBatchInput) { in.HarvestDate = time.Time{} }, apperror.KindInvalid},
		{"zero quantity", func(in *CreateBatchInput) { in.QuantityKg = 0 }, apperror.KindInvalid},
		{"negative quantity", func(in *CreateBatchInput) { in.QuantityKg = -3 }, apperror.KindInvalid},
		{"unknown farmer", func(in *CreateBatchInput) { in.FarmerID = 9999 }, apperror.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := harvestInput(fx.Farmer, 10)
			tt.mutate(&in)
			_, err := svc.CreateBatch(ctx, in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperror.KindOf(err))
		})
	}
}

func TestCreateBatchNormalizesHarvestDate(t *testing.T) {
	st := memory.New()
	fx := storetest.Seed(t, st)
	svc := newTestService(t, st)

	in := harvestInput(fx.Farmer, 10)
	in.HarvestDate = time.Date(2025, 1, 15, 17, 45, 0, 0, time.UTC)
	b, err := svc.CreateBatch(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, storetest.Day(2025, 1, 15), b.HarvestDate)
}

func TestCreateBatchRapidSuccessionYieldsDistinctCodes(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	frozen := time.UnixMilli(1736899200000)
	svc := newTestService(t, st, func(o *Options) {
		o.Now = func() time.Time { return frozen }
	})

	const n = 25
	seen := map[string]bool{}
	for range n {
		b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 5))
		require.NoError(t, err)
		assert.False(t, seen[b.BatchCode], "duplicate code %s", b.BatchCode)
		seen[b.BatchCode] = true
	}

	items, err := svc.ListBatches(ctx, store.BatchFilter{FarmerID: fx.Farmer.ID})
	require.NoError(t, err)
	assert.Len(t, items, n)
}

func TestCreateBatchForcedCollisionNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	codes := &fixedCodes{codes: []string{"BATCH-1-2-1700000000000"}}
	svc := newTestService(t, st, func(o *Options) { o.Codes = codes })

	first, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 150.5))
	require.NoError(t, err)

	_, err = svc.CreateBatch(ctx, harvestInput(fx.Farmer, 99))
	require.Error(t, err)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Equal(t, apperror.FieldBatchCode, apperror.FieldOf(err))
	assert.True(t, apperror.IsRetryable(err))
	assert.Equal(t, int32(1+DefaultCodeAttempts), codes.calls.Load())

	stored, err := svc.ResolveBatch(ctx, first.BatchCode)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, 150.5, stored.QuantityKg)
}

func TestCreateBatchRecoversFromCollision(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	codes := &fixedCodes{codes: []string{"BATCH-A", "BATCH-A", "BATCH-B"}}
	svc := newTestService(t, st, func(o *Options) { o.Codes = codes })

	_, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 1))
	require.NoError(t, err)
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 2))
	require.NoError(t, err)
	assert.Equal(t, "BATCH-B", b.BatchCode)
}

func TestCreateBatchNotifies(t *testing.T) {
	st := memory.New()
	fx := storetest.Seed(t, st)
	n := &recordingNotifier{}
	svc := newTestService(t, st, func(o *Options) { o.Notifier = n })

	b, err := svc.CreateBatch(context.Background(), harvestInput(fx.Farmer, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{b.BatchCode}, n.created)
}

func TestResolveBatch(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	svc := newTestService(t, st)
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	t.Run("by id and by code agree", func(t *testing.T) {
		byID, err := svc.ResolveBatch(ctx, fmt.Sprint(b.ID))
		require.NoError(t, err)
		byCode, err := svc.ResolveBatch(ctx, b.BatchCode)
		require.NoError(t, err)
		assert.Equal(t, byID, byCode)
	})

	t.Run("repeat calls are identical", func(t *testing.T) {
		a, err := svc.ResolveBatch(ctx, b.BatchCode)
		require.NoError(t, err)
		c, err := svc.ResolveBatch(ctx, b.BatchCode)
		require.NoError(t, err)
		assert.Equal(t, a, c)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := svc.ResolveBatch(ctx, "nonexistent-code")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("blank identifier", func(t *testing.T) {
		_, err := svc.ResolveBatch(ctx, "  ")
		assert.ErrorIs(t, err, apperror.ErrInvalid)
	})
}

func TestEnsureQRArtifact(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	svc := newTestService(t, st)
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	art, err := svc.EnsureQRArtifact(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.BatchCode, art.BatchCode)

	want, err := qr.NewEncoder(baseURL, 300).Synthesize(b.BatchCode)
	require.NoError(t, err)
	assert.Equal(t, want.DataURI, art.DataURI)

	again, err := svc.EnsureQRArtifact(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, art, again)

	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, art.DataURI, stored.QRCodeArtifact)
}

func TestEnsureQRArtifactConcurrentCallersShareOneValue(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	b, err := newTestService(t, st).CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	// two services over one store stand in for two server processes
	synth := &countingSynth{}
	services := []*Service{
		newTestService(t, st, func(o *Options) { o.Synthesizer = synth }),
		newTestService(t, st, func(o *Options) { o.Synthesizer = synth }),
	}

	const perService = 16
	results := make(chan string, perService*len(services))
	var wg sync.WaitGroup
	for _, svc := range services {
		for range perService {
			wg.Add(1)
			go func() {
				defer wg.Done()
				art, err := svc.EnsureQRArtifact(ctx, b.ID)
				if assert.NoError(t, err) {
					results <- art.DataURI
				}
			}()
		}
	}
	wg.Wait()
	close(results)

	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, stored.HasArtifact())

	count := 0
	for got := range results {
		assert.Equal(t, stored.QRCodeArtifact, got)
		count++
	}
	assert.Equal(t, perService*len(services), count)
}

func TestEnsureQRArtifactSynthesisFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	broken := &countingSynth{err: errors.New("rasterizer unavailable")}
	svc := newTestService(t, st, func(o *Options) { o.Synthesizer = broken })
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	_, err = svc.EnsureQRArtifact(ctx, b.ID)
	require.Error(t, err)
	assert.Equal(t, apperror.KindArtifact, apperror.KindOf(err))
	assert.True(t, apperror.IsRetryable(err))

	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasArtifact())

	art, err := newTestService(t, st).EnsureQRArtifact(ctx, b.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, art.DataURI)
}

func TestEnsureQRArtifactUnknownBatch(t *testing.T) {
	svc := newTestService(t, memory.New())
	_, err := svc.EnsureQRArtifact(context.Background(), 404)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestEnsureQRArtifactPublishesOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	pub := &recordingPublisher{err: errors.New("bucket unreachable")}
	svc := newTestService(t, st, func(o *Options) { o.Publisher = pub })
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	_, err = svc.EnsureQRArtifact(ctx, b.ID)
	require.NoError(t, err, "publish failures must not fail issuance")
	_, err = svc.EnsureQRArtifact(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{b.BatchCode}, pub.codes)
}

func TestEnsureQRArtifactFillsCache(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	cache := &mapCache{}
	synth := &countingSynth{}
	svc := newTestService(t, st, func(o *Options) {
		o.Cache = cache
		o.Synthesizer = synth
	})
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	first, err := svc.EnsureQRArtifact(ctx, b.ID)
	require.NoError(t, err)
	cached, ok, _ := cache.Get(ctx, b.BatchCode)
	require.True(t, ok)
	assert.Equal(t, first, cached)

	again, err := svc.EnsureQRArtifact(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int32(1), synth.calls.Load())
}

func TestEnsureQRArtifactIgnoresCacheForReusedID(t *testing.T) {
	ctx := context.Background()
	cache := &mapCache{}
	codes := &fixedCodes{codes: []string{"BATCH-1-2-1000", "BATCH-1-2-2000"}}

	before := memory.New()
	fx := storetest.Seed(t, before)
	svcBefore := newTestService(t, before, func(o *Options) {
		o.Cache = cache
		o.Codes = codes
		o.Synthesizer = &countingSynth{}
	})
	old, err := svcBefore.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)
	_, err = svcBefore.EnsureQRArtifact(ctx, old.ID)
	require.NoError(t, err)

	// a fresh store hands out the same ids while the cache survives
	after := memory.New()
	fx = storetest.Seed(t, after)
	svcAfter := newTestService(t, after, func(o *Options) {
		o.Cache = cache
		o.Codes = codes
		o.Synthesizer = &countingSynth{}
	})
	fresh, err := svcAfter.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)
	require.Equal(t, old.ID, fresh.ID)
	require.NotEqual(t, old.BatchCode, fresh.BatchCode)

	art, err := svcAfter.EnsureQRArtifact(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.BatchCode, art.BatchCode)

	png, err := qr.DecodeDataURI(art.DataURI)
	require.NoError(t, err)
	assert.Contains(t, string(png), fresh.BatchCode)

	stored, err := after.GetBatch(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, art.DataURI, stored.QRCodeArtifact)
}

func TestEnsureQRArtifactPersistsCachedEntry(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	cache := &mapCache{}
	synth := &countingSynth{}
	svc := newTestService(t, st, func(o *Options) {
		o.Cache = cache
		o.Synthesizer = synth
	})
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	uri := qr.DataURI([]byte("previously issued"))
	require.NoError(t, cache.Set(ctx, &models.QRArtifact{BatchID: b.ID, BatchCode: b.BatchCode, DataURI: uri}))

	art, err := svc.EnsureQRArtifact(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, uri, art.DataURI)
	assert.Zero(t, synth.calls.Load())

	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, uri, stored.QRCodeArtifact)
}

// racingStore changes a batch's status between the service's read and its
// compare-and-set.
type racingStore struct {
	store.Store
	once sync.Once
}

func (r *racingStore) UpdateBatchStatus(ctx context.Context, id int64, from, to models.Status) error {
	r.once.Do(func() {
		_ = r.Store.UpdateBatchStatus(ctx, id, from, models.StatusShipped)
	})
	return r.Store.UpdateBatchStatus(ctx, id, from, to)
}

func TestTransitionStatus(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	n := &recordingNotifier{}
	svc := newTestService(t, st, func(o *Options) { o.Notifier = n })
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	moved, err := svc.TransitionStatus(ctx, b.ID, models.StatusVerified)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, moved.Status)

	for _, to := range []models.Status{models.StatusLogged, models.StatusVerified, "lost"} {
		_, err := svc.TransitionStatus(ctx, b.ID, to)
		assert.ErrorIs(t, err, apperror.ErrState, "to %q", to)
	}

	_, err = svc.TransitionStatus(ctx, b.ID, models.StatusShipped)
	require.NoError(t, err)

	_, err = svc.TransitionStatus(ctx, 9999, models.StatusShipped)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	assert.Equal(t, []string{
		b.BatchCode + ":logged->verified",
		b.BatchCode + ":verified->shipped",
	}, n.changed)
}

func TestTransitionStatusSkipsForward(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	svc := newTestService(t, st)
	b, err := svc.CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	moved, err := svc.TransitionStatus(ctx, b.ID, models.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, moved.Status)
}

func TestTransitionStatusLosesRace(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	b, err := newTestService(t, st).CreateBatch(ctx, harvestInput(fx.Farmer, 20))
	require.NoError(t, err)

	svc := newTestService(t, &racingStore{Store: st})
	_, err = svc.TransitionStatus(ctx, b.ID, models.StatusVerified)
	assert.ErrorIs(t, err, apperror.ErrState)

	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, stored.Status)
}

func TestAggregateStats(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fx := storetest.Seed(t, st)
	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	svc := newTestService(t, st, func(o *Options) { o.Now = func() time.Time { return now } })

	empty, err := svc.AggregateStats(ctx, fx.Coop.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.TotalKg)
	assert.Equal(t, int64(1), empty.FarmerCount)
	assert.Zero(t, empty.BatchCount)

	for _, h := range []struct {
		day time.Time
		kg  float64
	}{
		{storetest.Day(2025, 1, 29), 100},  // before the window
		{storetest.Day(2025, 1, 30), 50.5}, // first day of the window
		{storetest.Day(2025, 2, 20), 25},
	} {
		in := harvestInput(fx.Farmer, h.kg)
		in.HarvestDate = h.day
		_, err := svc.CreateBatch(ctx, in)
		require.NoError(t, err)
	}

	stats, err := svc.AggregateStats(ctx, fx.Coop.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.Coop.ID, stats.CooperativeID)
	assert.Equal(t, int64(1), stats.FarmerCount)
	assert.Equal(t, int64(3), stats.BatchCount)
	assert.InDelta(t, 175.5, stats.TotalKg, 1e-9)
	assert.Equal(t, int64(2), stats.Recent30dCount)

	_, err = svc.AggregateStats(ctx, 0)
	assert.ErrorIs(t, err, apperror.ErrInvalid)
}

// stallingStore blocks farmer reads until the caller's deadline passes.
type stallingStore struct {
	store.Store
}

func (s stallingStore) GetFarmer(ctx context.Context, _ int64) (*models.Farmer, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestQueryTimeoutSurfacesAsStorage(t *testing.T) {
	st := memory.New()
	fx := storetest.Seed(t, st)
	svc := newTestService(t, stallingStore{Store: st}, func(o *Options) { o.QueryTimeout = 10 * time.Millisecond })

	_, err := svc.CreateBatch(context.Background(), harvestInput(fx.Farmer, 1))
	require.Error(t, err)
	assert.Equal(t, apperror.KindStorage, apperror.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
