// Package storetest holds the behaviour every store.Store backend must share.
// Backends call Run from their own tests, the memory store in unit tests and
// the database backends behind the integration build tag.
package storetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("cooperatives", func(t *testing.T) { testCooperatives(t, newStore(t)) })
	t.Run("farmers", func(t *testing.T) { testFarmers(t, newStore(t)) })
	t.Run("create batch", func(t *testing.T) { testCreateBatch(t, newStore(t)) })
	t.Run("list batches", func(t *testing.T) { testListBatches(t, newStore(t)) })
	t.Run("resolve batch", func(t *testing.T) { testResolveBatch(t, newStore(t)) })
	t.Run("qr artifact set if absent", func(t *testing.T) { testSetArtifact(t, newStore(t)) })
	t.Run("qr artifact concurrent", func(t *testing.T) { testSetArtifactConcurrent(t, newStore(t)) })
	t.Run("status compare and set", func(t *testing.T) { testUpdateStatus(t, newStore(t)) })
	t.Run("aggregate stats", func(t *testing.T) { testAggregateStats(t, newStore(t)) })
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
}

// Day returns midnight UTC of the given date.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Fixture is a cooperative with one farmer, the shape most tests start from.
type Fixture struct {
	Coop   *models.Cooperative
	Farmer *models.Farmer
}

// Seed creates the Honduras cooperative and farmer HN-001.
func Seed(t *testing.T, st store.Store) Fixture {
	t.Helper()
	ctx := context.Background()

	coop := &models.Cooperative{
		Name:     "Honduras Coffee Growers Cooperative",
		Location: "Marcala, La Paz",
		Country:  "Honduras",
	}
	require.NoError(t, st.CreateCooperative(ctx, coop))

	farmer := &models.Farmer{
		CooperativeID: coop.ID,
		FarmerCode:    "HN-001",
		FirstName:     "Juan",
		LastName:      "Martinez",
		FarmLocation:  "Santa Elena",
		Certification: "Fair Trade",
	}
	require.NoError(t, st.CreateFarmer(ctx, farmer))
	return Fixture{Coop: coop, Farmer: farmer}
}

// NewBatch builds an unsaved batch for farmer with a unique code.
func NewBatch(farmer *models.Farmer, code string, harvest time.Time, kg float64) *models.HarvestBatch {
	return &models.HarvestBatch{
		BatchCode:     code,
		FarmerID:      farmer.ID,
		CooperativeID: farmer.CooperativeID,
		HarvestDate:   harvest,
		QuantityKg:    kg,
		QualityGrade:  "A",
		Variety:       "Catuai",
		Status:        models.StatusLogged,
	}
}

func testCooperatives(t *testing.T, st store.Store) {
	ctx := context.Background()

	b := &models.Cooperative{Name: "Beta Growers", Country: "Peru"}
	a := &models.Cooperative{Name: "Alpha Growers", Country: "Colombia"}
	require.NoError(t, st.CreateCooperative(ctx, b))
	require.NoError(t, st.CreateCooperative(ctx, a))
	require.NotZero(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)

	got, err := st.GetCooperative(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Growers", got.Name)

	list, err := st.ListCooperatives(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha Growers", list[0].Name)

	_, err = st.GetCooperative(ctx, a.ID+b.ID+100)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func testFarmers(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	other := &models.Cooperative{Name: "Other", Country: "Honduras"}
	require.NoError(t, st.CreateCooperative(ctx, other))

	dup := &models.Farmer{CooperativeID: fx.Coop.ID, FarmerCode: "HN-001", FirstName: "Ana", LastName: "Lopez"}
	err := st.CreateFarmer(ctx, dup)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	sameCodeOtherCoop := &models.Farmer{CooperativeID: other.ID, FarmerCode: "HN-001", FirstName: "Ana", LastName: "Lopez"}
	require.NoError(t, st.CreateFarmer(ctx, sameCodeOtherCoop))

	orphan := &models.Farmer{CooperativeID: other.ID + fx.Coop.ID + 100, FarmerCode: "X-1", LastName: "Nobody"}
	err = st.CreateFarmer(ctx, orphan)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	second := &models.Farmer{CooperativeID: fx.Coop.ID, FarmerCode: "HN-002", FirstName: "Carlos", LastName: "Martinez"}
	third := &models.Farmer{CooperativeID: fx.Coop.ID, FarmerCode: "HN-003", FirstName: "Maria", LastName: "Alvarez"}
	require.NoError(t, st.CreateFarmer(ctx, second))
	require.NoError(t, st.CreateFarmer(ctx, third))

	list, err := st.ListFarmers(ctx, store.FarmerFilter{CooperativeID: fx.Coop.ID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"HN-003", "HN-002", "HN-001"},
		[]string{list[0].FarmerCode, list[1].FarmerCode, list[2].FarmerCode})
	assert.Equal(t, fx.Coop.Name, list[0].CooperativeName)

	all, err := st.ListFarmers(ctx, store.FarmerFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	got, err := st.GetFarmer(ctx, fx.Farmer.ID)
	require.NoError(t, err)
	assert.Equal(t, "HN-001", got.FarmerCode)
	assert.Equal(t, fx.Coop.Name, got.CooperativeName)
}

func testCreateBatch(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	other := &models.Cooperative{Name: "Other", Country: "Peru"}
	require.NoError(t, st.CreateCooperative(ctx, other))

	b := NewBatch(fx.Farmer, "BATCH-TEST-1", Day(2025, 1, 15), 150.5)
	b.CooperativeID = other.ID
	require.NoError(t, st.CreateBatch(ctx, b))
	require.NotZero(t, b.ID)
	assert.Equal(t, fx.Coop.ID, b.CooperativeID, "cooperative is derived from the farmer")

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.Coop.ID, got.CooperativeID)
	assert.Equal(t, models.StatusLogged, got.Status)
	assert.InDelta(t, 150.5, got.QuantityKg, 1e-9)
	assert.True(t, got.HarvestDate.Equal(Day(2025, 1, 15)))
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.HasArtifact())

	clash := NewBatch(fx.Farmer, "BATCH-TEST-1", Day(2025, 2, 1), 99)
	err = st.CreateBatch(ctx, clash)
	require.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Equal(t, apperror.FieldBatchCode, apperror.FieldOf(err))

	still, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.InDelta(t, 150.5, still.QuantityKg, 1e-9, "conflict must not overwrite the first batch")

	noFarmer := NewBatch(&models.Farmer{ID: fx.Farmer.ID + 1000, CooperativeID: fx.Coop.ID}, "BATCH-TEST-2", Day(2025, 1, 1), 1)
	err = st.CreateBatch(ctx, noFarmer)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = st.GetBatch(ctx, b.ID+1000)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func testListBatches(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	second := &models.Farmer{CooperativeID: fx.Coop.ID, FarmerCode: "HN-002", FirstName: "Ana", LastName: "Lopez"}
	require.NoError(t, st.CreateFarmer(ctx, second))

	old := NewBatch(fx.Farmer, "B-OLD", Day(2024, 11, 1), 10)
	mid1 := NewBatch(fx.Farmer, "B-MID-1", Day(2025, 1, 10), 20)
	mid2 := NewBatch(second, "B-MID-2", Day(2025, 1, 10), 30)
	newest := NewBatch(second, "B-NEW", Day(2025, 2, 1), 40)
	for _, b := range []*models.HarvestBatch{old, mid1, mid2, newest} {
		require.NoError(t, st.CreateBatch(ctx, b))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, st.UpdateBatchStatus(ctx, newest.ID, models.StatusLogged, models.StatusVerified))

	all, err := st.ListBatches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B-NEW", "B-MID-2", "B-MID-1", "B-OLD"}, codes(all))
	assert.Equal(t, "Juan Martinez", all[3].FarmerName)
	assert.Equal(t, "HN-001", all[3].FarmerCode)
	assert.Equal(t, fx.Coop.Name, all[3].CooperativeName)

	byFarmer, err := st.ListBatches(ctx, store.BatchFilter{FarmerID: fx.Farmer.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"B-MID-1", "B-OLD"}, codes(byFarmer))

	byStatus, err := st.ListBatches(ctx, store.BatchFilter{CooperativeID: fx.Coop.ID, Status: models.StatusVerified})
	require.NoError(t, err)
	assert.Equal(t, []string{"B-NEW"}, codes(byStatus))

	none, err := st.ListBatches(ctx, store.BatchFilter{CooperativeID: fx.Coop.ID + 1000})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func codes(items []models.BatchListItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.BatchCode)
	}
	return out
}

func testResolveBatch(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	b := NewBatch(fx.Farmer, "BATCH-1-1-1736899200000", Day(2025, 1, 15), 150.5)
	require.NoError(t, st.CreateBatch(ctx, b))

	byCode, err := st.ResolveBatch(ctx, b.BatchCode)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byCode.ID)
	require.NotNil(t, byCode.Farmer)
	assert.Equal(t, "Juan Martinez", byCode.Farmer.Name)
	assert.Equal(t, "HN-001", byCode.Farmer.FarmerCode)
	assert.Equal(t, "Fair Trade", byCode.Farmer.Certification)
	require.NotNil(t, byCode.Cooperative)
	assert.Equal(t, "Honduras Coffee Growers Cooperative", byCode.Cooperative.Name)
	assert.Equal(t, "Honduras", byCode.Cooperative.Country)

	byID, err := st.ResolveBatch(ctx, strconv.FormatInt(b.ID, 10))
	require.NoError(t, err)
	assert.Equal(t, b.BatchCode, byID.BatchCode)

	again, err := st.ResolveBatch(ctx, b.BatchCode)
	require.NoError(t, err)
	assert.Equal(t, byCode, again, "resolution is a pure function of store state")

	_, err = st.ResolveBatch(ctx, "nonexistent-code")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = st.ResolveBatch(ctx, strconv.FormatInt(b.ID+1000, 10))
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func testSetArtifact(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	b := NewBatch(fx.Farmer, "B-QR", Day(2025, 1, 15), 1)
	require.NoError(t, st.CreateBatch(ctx, b))

	got, err := st.SetQRArtifactIfAbsent(ctx, b.ID, "data:first")
	require.NoError(t, err)
	assert.Equal(t, "data:first", got)

	got, err = st.SetQRArtifactIfAbsent(ctx, b.ID, "data:second")
	require.NoError(t, err)
	assert.Equal(t, "data:first", got, "artifact is never overwritten")

	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "data:first", stored.QRCodeArtifact)

	_, err = st.SetQRArtifactIfAbsent(ctx, b.ID+1000, "data:x")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func testSetArtifactConcurrent(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	b := NewBatch(fx.Farmer, "B-QR-RACE", Day(2025, 1, 15), 1)
	require.NoError(t, st.CreateBatch(ctx, b))

	const n = 16
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = st.SetQRArtifactIfAbsent(ctx, b.ID, fmt.Sprintf("data:%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, results[0], stored.QRCodeArtifact)
}

func testUpdateStatus(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	b := NewBatch(fx.Farmer, "B-STATUS", Day(2025, 1, 15), 1)
	require.NoError(t, st.CreateBatch(ctx, b))

	require.NoError(t, st.UpdateBatchStatus(ctx, b.ID, models.StatusLogged, models.StatusVerified))

	err := st.UpdateBatchStatus(ctx, b.ID, models.StatusLogged, models.StatusShipped)
	assert.Equal(t, apperror.KindState, apperror.KindOf(err), "stale from-status must not apply")

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, got.Status)

	err = st.UpdateBatchStatus(ctx, b.ID+1000, models.StatusLogged, models.StatusVerified)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func testAggregateStats(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	empty := &models.Cooperative{Name: "Empty", Country: "Peru"}
	require.NoError(t, st.CreateCooperative(ctx, empty))

	stats, err := st.AggregateStats(ctx, empty.ID, Day(2025, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.FarmerCount)
	assert.Equal(t, int64(0), stats.BatchCount)
	assert.Equal(t, 0.0, stats.TotalKg)
	assert.Equal(t, int64(0), stats.Recent30dCount)

	second := &models.Farmer{CooperativeID: fx.Coop.ID, FarmerCode: "HN-002", LastName: "Lopez"}
	require.NoError(t, st.CreateFarmer(ctx, second))

	require.NoError(t, st.CreateBatch(ctx, NewBatch(fx.Farmer, "S-1", Day(2025, 3, 1), 100)))
	require.NoError(t, st.CreateBatch(ctx, NewBatch(second, "S-2", Day(2025, 2, 1), 50.5)))
	require.NoError(t, st.CreateBatch(ctx, NewBatch(second, "S-3", Day(2024, 6, 1), 25)))

	stats, err = st.AggregateStats(ctx, fx.Coop.ID, Day(2025, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, fx.Coop.ID, stats.CooperativeID)
	assert.Equal(t, int64(2), stats.FarmerCount)
	assert.Equal(t, int64(3), stats.BatchCount)
	assert.InDelta(t, 175.5, stats.TotalKg, 1e-9)
	assert.Equal(t, int64(2), stats.Recent30dCount, "cutoff is inclusive")
}

func testUsers(t *testing.T, st store.Store) {
	ctx := context.Background()
	fx := Seed(t, st)

	u := &models.User{Email: "admin@coop.example", Name: "Admin", PasswordHash: "hash", Role: models.RoleAdmin, CooperativeID: fx.Coop.ID}
	require.NoError(t, st.CreateUser(ctx, u))
	require.NotZero(t, u.ID)

	got, err := st.GetUserByEmail(ctx, "admin@coop.example")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, fx.Coop.ID, got.CooperativeID)

	err = st.CreateUser(ctx, &models.User{Email: "admin@coop.example", Role: models.RoleBuyer})
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	_, err = st.GetUserByEmail(ctx, "nobody@coop.example")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}
