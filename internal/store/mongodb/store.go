// Package mongodb implements store.Store on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"coffee-trace-api-server/config"
	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

const (
	colCooperatives = "cooperatives"
	colFarmers      = "farmers"
	colBatches      = "harvest_batches"
	colUsers        = "users"
	colCounters     = "counters"
)

var _ store.Store = (*Store)(nil)

// Store keeps every entity in its own collection. Documents use int64 _id
// values drawn from the counters collection so ids stay numeric like the
// SQL backend.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB, pings it and returns a store on cfg.DBName.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return New(client, cfg.DBName), nil
}

// New wraps an existing client.
func New(client *mongo.Client, dbName string) *Store {
	return &Store{client: client, db: client.Database(dbName)}
}

// EnsureIndexes creates the unique and listing indexes. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colBatches: {
			{Keys: bson.D{{Key: "batch_code", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_batch_code")},
			{Keys: bson.D{{Key: "cooperative_id", Value: 1}, {Key: "harvest_date", Value: -1}}},
			{Keys: bson.D{{Key: "farmer_id", Value: 1}}},
		},
		colFarmers: {
			{Keys: bson.D{{Key: "cooperative_id", Value: 1}, {Key: "farmer_code", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_coop_farmer_code")},
			{Keys: bson.D{{Key: "last_name", Value: 1}, {Key: "first_name", Value: 1}}},
		},
		colUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		},
	}
	for coll, specs := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	log.Info().Str("db", s.db.Name()).Msg("MongoDB indexes ensured")
	return nil
}

// nextID atomically increments the named counter.
func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (s *Store) CreateCooperative(ctx context.Context, coop *models.Cooperative) error {
	const op = "store.CreateCooperative"
	id, err := s.nextID(ctx, colCooperatives)
	if err != nil {
		return mapError(op, err)
	}
	coop.ID = id
	if coop.CreatedAt.IsZero() {
		coop.CreatedAt = now()
	}
	if _, err := s.db.Collection(colCooperatives).InsertOne(ctx, coop); err != nil {
		return mapError(op, err)
	}
	return nil
}

func (s *Store) GetCooperative(ctx context.Context, id int64) (*models.Cooperative, error) {
	var coop models.Cooperative
	err := s.db.Collection(colCooperatives).FindOne(ctx, bson.M{"_id": id}).Decode(&coop)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound("store.GetCooperative", "cooperative %d not found", id)
	}
	if err != nil {
		return nil, mapError("store.GetCooperative", err)
	}
	return &coop, nil
}

func (s *Store) ListCooperatives(ctx context.Context) ([]models.Cooperative, error) {
	const op = "store.ListCooperatives"
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(colCooperatives).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer cursor.Close(ctx)

	coops := []models.Cooperative{}
	if err := cursor.All(ctx, &coops); err != nil {
		return nil, mapError(op, err)
	}
	return coops, nil
}

func (s *Store) CreateFarmer(ctx context.Context, farmer *models.Farmer) error {
	const op = "store.CreateFarmer"
	count, err := s.db.Collection(colCooperatives).CountDocuments(ctx, bson.M{"_id": farmer.CooperativeID})
	if err != nil {
		return mapError(op, err)
	}
	if count == 0 {
		return apperror.NotFound(op, "cooperative %d not found", farmer.CooperativeID)
	}

	id, err := s.nextID(ctx, colFarmers)
	if err != nil {
		return mapError(op, err)
	}
	farmer.ID = id
	if farmer.CreatedAt.IsZero() {
		farmer.CreatedAt = now()
	}
	if _, err := s.db.Collection(colFarmers).InsertOne(ctx, farmer); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ConflictOn(op, "farmer_code", err)
		}
		return mapError(op, err)
	}
	return nil
}

func (s *Store) GetFarmer(ctx context.Context, id int64) (*models.Farmer, error) {
	const op = "store.GetFarmer"
	var farmer models.Farmer
	err := s.db.Collection(colFarmers).FindOne(ctx, bson.M{"_id": id}).Decode(&farmer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound(op, "farmer %d not found", id)
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	names, err := s.cooperativeNames(ctx, []int64{farmer.CooperativeID})
	if err != nil {
		return nil, mapError(op, err)
	}
	farmer.CooperativeName = names[farmer.CooperativeID]
	return &farmer, nil
}

func (s *Store) ListFarmers(ctx context.Context, filter store.FarmerFilter) ([]models.Farmer, error) {
	const op = "store.ListFarmers"
	query := bson.M{}
	if filter.CooperativeID != 0 {
		query["cooperative_id"] = filter.CooperativeID
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "last_name", Value: 1},
		{Key: "first_name", Value: 1},
		{Key: "_id", Value: 1},
	})
	cursor, err := s.db.Collection(colFarmers).Find(ctx, query, opts)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer cursor.Close(ctx)

	farmers := []models.Farmer{}
	if err := cursor.All(ctx, &farmers); err != nil {
		return nil, mapError(op, err)
	}

	ids := make([]int64, 0, len(farmers))
	for _, f := range farmers {
		ids = append(ids, f.CooperativeID)
	}
	names, err := s.cooperativeNames(ctx, ids)
	if err != nil {
		return nil, mapError(op, err)
	}
	for i := range farmers {
		farmers[i].CooperativeName = names[farmers[i].CooperativeID]
	}
	return farmers, nil
}

func (s *Store) cooperativeNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	opts := options.Find().SetProjection(bson.M{"name": 1})
	cursor, err := s.db.Collection(colCooperatives).Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID   int64  `bson:"_id"`
		Name string `bson:"name"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, r := range rows {
		names[r.ID] = r.Name
	}
	return names, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch *models.HarvestBatch) error {
	const op = "store.CreateBatch"
	var farmer models.Farmer
	err := s.db.Collection(colFarmers).FindOne(ctx, bson.M{"_id": batch.FarmerID}).Decode(&farmer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperror.NotFound(op, "farmer %d not found", batch.FarmerID)
	}
	if err != nil {
		return mapError(op, err)
	}

	id, err := s.nextID(ctx, colBatches)
	if err != nil {
		return mapError(op, err)
	}
	batch.ID = id
	batch.CooperativeID = farmer.CooperativeID
	if batch.Status == "" {
		batch.Status = models.StatusLogged
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now()
	}

	// the unique index on batch_code makes the insert the atomic uniqueness check
	if _, err := s.db.Collection(colBatches).InsertOne(ctx, batch); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ConflictOn(op, apperror.FieldBatchCode, err)
		}
		return mapError(op, err)
	}

	log.Debug().Int64("batch_id", batch.ID).Str("batch_code", batch.BatchCode).Msg("Created harvest batch")
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*models.HarvestBatch, error) {
	var batch models.HarvestBatch
	err := s.db.Collection(colBatches).FindOne(ctx, bson.M{"_id": id}).Decode(&batch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound("store.GetBatch", "batch %d not found", id)
	}
	if err != nil {
		return nil, mapError("store.GetBatch", err)
	}
	return &batch, nil
}

// joinedBatch is one row of the provenance pipeline.
type joinedBatch struct {
	models.HarvestBatch `bson:",inline"`
	Farmer              *models.Farmer      `bson:"farmer,omitempty"`
	Cooperative         *models.Cooperative `bson:"cooperative,omitempty"`
}

// provenancePipeline matches batches and left-outer joins farmer and cooperative.
func provenancePipeline(match bson.M, limit int64) mongo.Pipeline {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{
			{Key: "harvest_date", Value: -1},
			{Key: "created_at", Value: -1},
			{Key: "_id", Value: -1},
		}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	return append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: colFarmers},
			{Key: "localField", Value: "farmer_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "farmer"},
		}}},
		bson.D{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$farmer"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: colCooperatives},
			{Key: "localField", Value: "cooperative_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "cooperative"},
		}}},
		bson.D{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$cooperative"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},
	)
}

func (s *Store) runProvenance(ctx context.Context, match bson.M, limit int64) ([]joinedBatch, error) {
	cursor, err := s.db.Collection(colBatches).Aggregate(ctx, provenancePipeline(match, limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	rows := []joinedBatch{}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ListBatches(ctx context.Context, filter store.BatchFilter) ([]models.BatchListItem, error) {
	match := bson.M{}
	if filter.CooperativeID != 0 {
		match["cooperative_id"] = filter.CooperativeID
	}
	if filter.FarmerID != 0 {
		match["farmer_id"] = filter.FarmerID
	}
	if filter.Status != "" {
		match["status"] = filter.Status
	}

	rows, err := s.runProvenance(ctx, match, 0)
	if err != nil {
		return nil, mapError("store.ListBatches", err)
	}
	items := make([]models.BatchListItem, 0, len(rows))
	for _, r := range rows {
		item := models.BatchListItem{HarvestBatch: r.HarvestBatch}
		if r.Farmer != nil {
			item.FarmerName = r.Farmer.FullName()
			item.FarmerCode = r.Farmer.FarmerCode
		}
		if r.Cooperative != nil {
			item.CooperativeName = r.Cooperative.Name
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) ResolveBatch(ctx context.Context, identifier string) (*models.TracedBatch, error) {
	const op = "store.ResolveBatch"
	id, code, hasID := store.ParseIdentifier(identifier)

	match := bson.M{"batch_code": code}
	if hasID {
		match = bson.M{"$or": bson.A{bson.M{"_id": id}, bson.M{"batch_code": code}}}
	}

	rows, err := s.runProvenance(ctx, match, 2)
	if err != nil {
		return nil, mapError(op, err)
	}
	switch len(rows) {
	case 0:
		return nil, apperror.NotFound(op, "batch %q not found", identifier)
	case 1:
	default:
		return nil, apperror.Conflict(op, "identifier %q matches more than one batch", identifier)
	}

	r := rows[0]
	return &models.TracedBatch{
		HarvestBatch: r.HarvestBatch,
		Farmer:       models.NewFarmerSummary(r.Farmer),
		Cooperative:  models.NewCooperativeSummary(r.Cooperative),
	}, nil
}

func (s *Store) SetQRArtifactIfAbsent(ctx context.Context, batchID int64, artifact string) (string, error) {
	const op = "store.SetQRArtifactIfAbsent"
	var updated models.HarvestBatch
	err := s.db.Collection(colBatches).FindOneAndUpdate(ctx,
		bson.M{"_id": batchID, "qr_code_artifact": bson.M{"$in": bson.A{nil, ""}}},
		bson.M{"$set": bson.M{"qr_code_artifact": artifact}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err == nil {
		return updated.QRCodeArtifact, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", mapError(op, err)
	}

	// either the batch is missing or another writer got there first
	existing, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return "", err
	}
	return existing.QRCodeArtifact, nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID int64, from, to models.Status) error {
	const op = "store.UpdateBatchStatus"
	res, err := s.db.Collection(colBatches).UpdateOne(ctx,
		bson.M{"_id": batchID, "status": from},
		bson.M{"$set": bson.M{"status": to}},
	)
	if err != nil {
		return mapError(op, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	current, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	return apperror.State(op, "batch %d is %s, not %s", batchID, current.Status, from)
}

func (s *Store) AggregateStats(ctx context.Context, cooperativeID int64, since time.Time) (*models.CooperativeStats, error) {
	const op = "store.AggregateStats"
	stats := &models.CooperativeStats{CooperativeID: cooperativeID}
	coopFilter := bson.M{"cooperative_id": cooperativeID}

	var err error
	if stats.FarmerCount, err = s.db.Collection(colFarmers).CountDocuments(ctx, coopFilter); err != nil {
		return nil, mapError(op, err)
	}
	if stats.BatchCount, err = s.db.Collection(colBatches).CountDocuments(ctx, coopFilter); err != nil {
		return nil, mapError(op, err)
	}
	stats.Recent30dCount, err = s.db.Collection(colBatches).CountDocuments(ctx, bson.M{
		"cooperative_id": cooperativeID,
		"harvest_date":   bson.M{"$gte": since},
	})
	if err != nil {
		return nil, mapError(op, err)
	}

	cursor, err := s.db.Collection(colBatches).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: coopFilter}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$quantity_kg"}}},
		}}},
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	defer cursor.Close(ctx)

	var sums []struct {
		Total float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &sums); err != nil {
		return nil, mapError(op, err)
	}
	if len(sums) > 0 {
		stats.TotalKg = sums[0].Total
	}
	return stats, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	const op = "store.CreateUser"
	id, err := s.nextID(ctx, colUsers)
	if err != nil {
		return mapError(op, err)
	}
	user.ID = id
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	if _, err := s.db.Collection(colUsers).InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ConflictOn(op, "email", err)
		}
		return mapError(op, err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "store.GetUserByEmail"
	var user models.User
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound(op, "user %q not found", email)
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	return &user, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return mapError("store.Ping", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// now truncates to millisecond precision, the resolution MongoDB stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
