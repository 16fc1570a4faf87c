package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store in memory. Data is lost on restart; it backs
// unit tests and the "memory" driver for local development.
type Store struct {
	mu sync.RWMutex

	nextID       int64
	cooperatives map[int64]*models.Cooperative
	farmers      map[int64]*models.Farmer
	batches      map[int64]*models.HarvestBatch
	users        map[int64]*models.User

	batchCodes  map[string]int64 // batch_code -> batch id
	farmerCodes map[string]int64 // coop id + farmer_code -> farmer id
	emails      map[string]int64 // lower(email) -> user id

	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		cooperatives: make(map[int64]*models.Cooperative),
		farmers:      make(map[int64]*models.Farmer),
		batches:      make(map[int64]*models.HarvestBatch),
		users:        make(map[int64]*models.User),
		batchCodes:   make(map[string]int64),
		farmerCodes:  make(map[string]int64),
		emails:       make(map[string]int64),
		now:          time.Now,
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

func farmerKey(coopID int64, code string) string {
	return strconv.FormatInt(coopID, 10) + "/" + code
}

func (s *Store) CreateCooperative(ctx context.Context, coop *models.Cooperative) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coop.ID = s.allocID()
	if coop.CreatedAt.IsZero() {
		coop.CreatedAt = s.now()
	}
	clone := *coop
	s.cooperatives[coop.ID] = &clone
	return nil
}

func (s *Store) GetCooperative(ctx context.Context, id int64) (*models.Cooperative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coop, ok := s.cooperatives[id]
	if !ok {
		return nil, apperror.NotFound("store.GetCooperative", "cooperative %d not found", id)
	}
	clone := *coop
	return &clone, nil
}

func (s *Store) ListCooperatives(ctx context.Context) ([]models.Cooperative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Cooperative, 0, len(s.cooperatives))
	for _, c := range s.cooperatives {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateFarmer(ctx context.Context, farmer *models.Farmer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cooperatives[farmer.CooperativeID]; !ok {
		return apperror.NotFound("store.CreateFarmer", "cooperative %d not found", farmer.CooperativeID)
	}
	key := farmerKey(farmer.CooperativeID, farmer.FarmerCode)
	if _, exists := s.farmerCodes[key]; exists {
		return apperror.ConflictOn("store.CreateFarmer", "farmer_code", nil)
	}

	farmer.ID = s.allocID()
	if farmer.CreatedAt.IsZero() {
		farmer.CreatedAt = s.now()
	}
	clone := *farmer
	clone.CooperativeName = ""
	s.farmers[farmer.ID] = &clone
	s.farmerCodes[key] = farmer.ID
	return nil
}

func (s *Store) GetFarmer(ctx context.Context, id int64) (*models.Farmer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.farmers[id]
	if !ok {
		return nil, apperror.NotFound("store.GetFarmer", "farmer %d not found", id)
	}
	clone := *f
	if coop, ok := s.cooperatives[f.CooperativeID]; ok {
		clone.CooperativeName = coop.Name
	}
	return &clone, nil
}

func (s *Store) ListFarmers(ctx context.Context, filter store.FarmerFilter) ([]models.Farmer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Farmer, 0)
	for _, f := range s.farmers {
		if filter.CooperativeID != 0 && f.CooperativeID != filter.CooperativeID {
			continue
		}
		clone := *f
		if coop, ok := s.cooperatives[f.CooperativeID]; ok {
			clone.CooperativeName = coop.Name
		}
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return store.LessFarmer(&out[i], &out[j]) })
	return out, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch *models.HarvestBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	farmer, ok := s.farmers[batch.FarmerID]
	if !ok {
		return apperror.NotFound("store.CreateBatch", "farmer %d not found", batch.FarmerID)
	}
	if _, exists := s.batchCodes[batch.BatchCode]; exists {
		return apperror.ConflictOn("store.CreateBatch", apperror.FieldBatchCode, nil)
	}

	batch.ID = s.allocID()
	batch.CooperativeID = farmer.CooperativeID
	if batch.Status == "" {
		batch.Status = models.StatusLogged
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = s.now()
	}
	clone := *batch
	s.batches[batch.ID] = &clone
	s.batchCodes[batch.BatchCode] = batch.ID
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*models.HarvestBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, apperror.NotFound("store.GetBatch", "batch %d not found", id)
	}
	clone := *b
	return &clone, nil
}

func (s *Store) ListBatches(ctx context.Context, filter store.BatchFilter) ([]models.BatchListItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.BatchListItem, 0)
	for _, b := range s.batches {
		if !filter.Matches(b) {
			continue
		}
		item := models.BatchListItem{HarvestBatch: *b}
		if f, ok := s.farmers[b.FarmerID]; ok {
			item.FarmerName = f.FullName()
			item.FarmerCode = f.FarmerCode
		}
		if c, ok := s.cooperatives[b.CooperativeID]; ok {
			item.CooperativeName = c.Name
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return store.LessBatch(&out[i].HarvestBatch, &out[j].HarvestBatch) })
	return out, nil
}

func (s *Store) ResolveBatch(ctx context.Context, identifier string) (*models.TracedBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, code, hasID := store.ParseIdentifier(identifier)

	matches := make(map[int64]*models.HarvestBatch, 2)
	if hasID {
		if b, ok := s.batches[id]; ok {
			matches[b.ID] = b
		}
	}
	if bid, ok := s.batchCodes[code]; ok {
		matches[bid] = s.batches[bid]
	}

	switch len(matches) {
	case 0:
		return nil, apperror.NotFound("store.ResolveBatch", "batch %q not found", identifier)
	case 1:
	default:
		return nil, apperror.Conflict("store.ResolveBatch", "identifier %q matches more than one batch", identifier)
	}

	var b *models.HarvestBatch
	for _, m := range matches {
		b = m
	}
	traced := &models.TracedBatch{HarvestBatch: *b}
	traced.Farmer = models.NewFarmerSummary(s.farmers[b.FarmerID])
	traced.Cooperative = models.NewCooperativeSummary(s.cooperatives[b.CooperativeID])
	return traced, nil
}

func (s *Store) SetQRArtifactIfAbsent(ctx context.Context, batchID int64, artifact string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return "", apperror.NotFound("store.SetQRArtifactIfAbsent", "batch %d not found", batchID)
	}
	if b.QRCodeArtifact == "" {
		b.QRCodeArtifact = artifact
	}
	return b.QRCodeArtifact, nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID int64, from, to models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return apperror.NotFound("store.UpdateBatchStatus", "batch %d not found", batchID)
	}
	if b.Status != from {
		return apperror.State("store.UpdateBatchStatus", "batch %d is %s, not %s", batchID, b.Status, from)
	}
	b.Status = to
	return nil
}

func (s *Store) AggregateStats(ctx context.Context, cooperativeID int64, since time.Time) (*models.CooperativeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.CooperativeStats{CooperativeID: cooperativeID}
	for _, f := range s.farmers {
		if f.CooperativeID == cooperativeID {
			stats.FarmerCount++
		}
	}
	for _, b := range s.batches {
		if b.CooperativeID != cooperativeID {
			continue
		}
		stats.BatchCount++
		stats.TotalKg += b.QuantityKg
		if !b.HarvestDate.Before(since) {
			stats.Recent30dCount++
		}
	}
	return stats, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, exists := s.emails[key]; exists {
		return apperror.ConflictOn("store.CreateUser", "email", nil)
	}
	user.ID = s.allocID()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	clone := *user
	s.users[user.ID] = &clone
	s.emails[key] = user.ID
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, apperror.NotFound("store.GetUserByEmail", "user %q not found", email)
	}
	clone := *s.users[id]
	return &clone, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close(ctx context.Context) error { return nil }
