// Package store defines the entity store used by the traceability core and the
// filters it accepts. Backends live in the memory, mongo and postgres
// subpackages and share the conformance suite in storetest.
package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"coffee-trace-api-server/internal/models"
)

// Store persists cooperatives, farmers, harvest batches and users.
//
// Constraint violations are reported as apperror Conflict (uniqueness) or
// NotFound (missing referenced row); transport failures and timeouts as
// apperror Storage.
type Store interface {
	CreateCooperative(ctx context.Context, coop *models.Cooperative) error
	GetCooperative(ctx context.Context, id int64) (*models.Cooperative, error)
	ListCooperatives(ctx context.Context) ([]models.Cooperative, error)

	// CreateFarmer requires the cooperative to exist and (cooperative_id, farmer_code)
	// to be unused.
	CreateFarmer(ctx context.Context, farmer *models.Farmer) error
	GetFarmer(ctx context.Context, id int64) (*models.Farmer, error)
	ListFarmers(ctx context.Context, filter FarmerFilter) ([]models.Farmer, error)

	// CreateBatch inserts batch atomically. The farmer must exist; the batch's
	// CooperativeID is overwritten with the farmer's cooperative. A duplicate
	// BatchCode yields a Conflict on apperror.FieldBatchCode and leaves the
	// existing row untouched. ID is assigned on success.
	CreateBatch(ctx context.Context, batch *models.HarvestBatch) error
	GetBatch(ctx context.Context, id int64) (*models.HarvestBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]models.BatchListItem, error)

	// ResolveBatch finds one batch by surrogate id or batch code and joins the
	// farmer and cooperative left-outer.
	ResolveBatch(ctx context.Context, identifier string) (*models.TracedBatch, error)

	// SetQRArtifactIfAbsent stores artifact only if the batch has none yet and
	// returns whichever value is stored afterwards.
	SetQRArtifactIfAbsent(ctx context.Context, batchID int64, artifact string) (string, error)

	// UpdateBatchStatus moves a batch from one status to another only if its
	// current status still equals from. A mismatch yields apperror State.
	UpdateBatchStatus(ctx context.Context, batchID int64, from, to models.Status) error

	// AggregateStats counts farmers and batches for a cooperative, sums batch
	// quantities and counts batches harvested on or after since.
	AggregateStats(ctx context.Context, cooperativeID int64, since time.Time) (*models.CooperativeStats, error)

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// BatchFilter narrows batch listings. Zero values mean "any".
type BatchFilter struct {
	CooperativeID int64
	FarmerID      int64
	Status        models.Status
}

// Matches reports whether b satisfies the filter.
func (f BatchFilter) Matches(b *models.HarvestBatch) bool {
	if f.CooperativeID != 0 && b.CooperativeID != f.CooperativeID {
		return false
	}
	if f.FarmerID != 0 && b.FarmerID != f.FarmerID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	return true
}

// FarmerFilter narrows farmer listings.
type FarmerFilter struct {
	CooperativeID int64
}

// ParseIdentifier splits an id-or-code lookup key. id is set when the
// identifier is a positive decimal integer.
func ParseIdentifier(identifier string) (id int64, code string, hasID bool) {
	code = strings.TrimSpace(identifier)
	n, err := strconv.ParseInt(code, 10, 64)
	if err != nil || n <= 0 {
		return 0, code, false
	}
	return n, code, true
}

// LessBatch orders batches harvest date desc, then created_at desc, then id desc.
func LessBatch(a, b *models.HarvestBatch) bool {
	if !a.HarvestDate.Equal(b.HarvestDate) {
		return a.HarvestDate.After(b.HarvestDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// LessFarmer orders farmers by surname, then given name, then id.
func LessFarmer(a, b *models.Farmer) bool {
	if a.LastName != b.LastName {
		return a.LastName < b.LastName
	}
	if a.FirstName != b.FirstName {
		return a.FirstName < b.FirstName
	}
	return a.ID < b.ID
}

// RecentCutoff is the inclusive lower harvest-date bound for "recent" batches:
// start of now's UTC day minus days.
func RecentCutoff(now time.Time, days int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
}
