package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-trace-api-server/internal/store"
	"coffee-trace-api-server/internal/store/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestResolveBatchWithMissingFarmer(t *testing.T) {
	st := New()
	ctx := context.Background()
	fx := storetest.Seed(t, st)

	b := storetest.NewBatch(fx.Farmer, "B-ORPHAN", storetest.Day(2025, 1, 15), 12)
	require.NoError(t, st.CreateBatch(ctx, b))

	// archive the farmer behind the store's back
	st.mu.Lock()
	delete(st.farmers, fx.Farmer.ID)
	st.mu.Unlock()

	traced, err := st.ResolveBatch(ctx, "B-ORPHAN")
	require.NoError(t, err)
	assert.Nil(t, traced.Farmer)
	require.NotNil(t, traced.Cooperative)
	assert.Equal(t, fx.Coop.Name, traced.Cooperative.Name)
}

func TestCreateBatchDefaultsStatus(t *testing.T) {
	st := New()
	ctx := context.Background()
	fx := storetest.Seed(t, st)

	b := storetest.NewBatch(fx.Farmer, "B-DEFAULT", storetest.Day(2025, 1, 15), 1)
	b.Status = ""
	require.NoError(t, st.CreateBatch(ctx, b))
	assert.Equal(t, "logged", string(b.Status))
}
