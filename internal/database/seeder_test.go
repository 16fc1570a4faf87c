package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"coffee-trace-api-server/config"
	"coffee-trace-api-server/internal/auth"
	"coffee-trace-api-server/internal/batch"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/qr"
	"coffee-trace-api-server/internal/store"
	"coffee-trace-api-server/internal/store/memory"
)

func init() {
	auth.PasswordCost = bcrypt.MinCost
}

func TestSeedAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	cfg := config.SeedConfig{
		AdminEmail:      "Admin@Coop.example",
		AdminPassword:   "changeme",
		CooperativeName: "Demo Coffee Cooperative",
		Country:         "Honduras",
	}

	first, err := SeedAdmin(ctx, st, cfg)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, first.Role)
	assert.True(t, auth.CheckPasswordHash("changeme", first.PasswordHash))

	second, err := SeedAdmin(ctx, st, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	coops, err := st.ListCooperatives(ctx)
	require.NoError(t, err)
	require.Len(t, coops, 1)
	assert.Equal(t, first.CooperativeID, coops[0].ID)
}

func TestSeedAdminRequiresCredentials(t *testing.T) {
	_, err := SeedAdmin(context.Background(), memory.New(), config.SeedConfig{AdminEmail: "a@b.c"})
	assert.Error(t, err)
}

func TestSeedDemoLoadsBothCooperatives(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := batch.NewService(batch.Options{Store: st, Synthesizer: qr.NewEncoder("https://trace.example.com", 0)})
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	sum, err := SeedDemo(ctx, st, svc, "demo123", now)
	require.NoError(t, err)
	assert.Equal(t, &DemoSummary{Cooperatives: 2, Admins: 2, Farmers: 5, Batches: 15}, sum)

	hn, err := st.ListFarmers(ctx, store.FarmerFilter{})
	require.NoError(t, err)
	codes := make([]string, 0, len(hn))
	for _, f := range hn {
		codes = append(codes, f.FarmerCode)
	}
	assert.ElementsMatch(t, []string{"HN-001", "HN-002", "HN-003", "KE-001", "KE-002"}, codes)

	all, err := st.ListBatches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 15)
	seen := map[string]bool{}
	for _, b := range all {
		assert.False(t, seen[b.BatchCode], "duplicate code %s", b.BatchCode)
		seen[b.BatchCode] = true
		assert.False(t, b.HarvestDate.After(now))
		assert.True(t, b.HarvestDate.After(now.AddDate(0, 0, -91)))
	}

	admin, err := st.GetUserByEmail(ctx, "admin@kenyahighlands.co.ke")
	require.NoError(t, err)
	assert.True(t, auth.CheckPasswordHash("demo123", admin.PasswordHash))
	traced, err := svc.ResolveBatch(ctx, all[0].BatchCode)
	require.NoError(t, err)
	require.NotNil(t, traced.Cooperative)
	assert.Contains(t, []string{"Honduras", "Kenya"}, traced.Cooperative.Country)
}

func TestSeedDemoIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := batch.NewService(batch.Options{Store: st, Synthesizer: qr.NewEncoder("https://trace.example.com", 0)})
	now := time.Now()

	_, err := SeedDemo(ctx, st, svc, "demo123", now)
	require.NoError(t, err)
	again, err := SeedDemo(ctx, st, svc, "demo123", now)
	require.NoError(t, err)
	assert.Equal(t, &DemoSummary{}, again)

	coops, err := st.ListCooperatives(ctx)
	require.NoError(t, err)
	assert.Len(t, coops, 2)
}

func TestSeedDemoRequiresPassword(t *testing.T) {
	st := memory.New()
	_, err := SeedDemo(context.Background(), st, batch.NewService(batch.Options{Store: st}), "", time.Now())
	assert.Error(t, err)
}
