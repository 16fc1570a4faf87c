// Package postgres implements store.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store on a shared pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Callers run Migrate before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const batchColumns = `hb.id, hb.batch_code, hb.farmer_id, hb.cooperative_id, hb.harvest_date,
	hb.quantity_kg, hb.quality_grade, hb.variety, hb.processing_method, hb.notes,
	hb.status, hb.qr_code_artifact, hb.created_at`

// batchRow holds scan targets for batchColumns.
type batchRow struct {
	b      models.HarvestBatch
	status string
	qr     *string
}

func (r *batchRow) dest() []any {
	return []any{
		&r.b.ID, &r.b.BatchCode, &r.b.FarmerID, &r.b.CooperativeID, &r.b.HarvestDate,
		&r.b.QuantityKg, &r.b.QualityGrade, &r.b.Variety, &r.b.ProcessingMethod, &r.b.Notes,
		&r.status, &r.qr, &r.b.CreatedAt,
	}
}

func (r *batchRow) batch() models.HarvestBatch {
	b := r.b
	b.Status = models.Status(r.status)
	if r.qr != nil {
		b.QRCodeArtifact = *r.qr
	}
	return b
}

// predicates builds a parameterized WHERE clause from structured filters.
type predicates struct {
	clauses []string
	args    []any
}

// add appends a clause; expr holds one %d for the placeholder index.
func (p *predicates) add(expr string, arg any) {
	p.args = append(p.args, arg)
	p.clauses = append(p.clauses, fmt.Sprintf(expr, len(p.args)))
}

func (p *predicates) where() string {
	if len(p.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(p.clauses, " AND ")
}

func (s *Store) CreateCooperative(ctx context.Context, coop *models.Cooperative) error {
	if coop.CreatedAt.IsZero() {
		coop.CreatedAt = now()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cooperatives (name, location, country, contact_email, contact_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, coop.Name, coop.Location, coop.Country, coop.ContactEmail, coop.ContactPhone, coop.CreatedAt).Scan(&coop.ID)
	if err != nil {
		return mapPostgresError("store.CreateCooperative", err)
	}
	return nil
}

const cooperativeColumns = `id, name, location, country, contact_email, contact_phone, created_at`

func scanCooperative(row pgx.Row, c *models.Cooperative) error {
	return row.Scan(&c.ID, &c.Name, &c.Location, &c.Country, &c.ContactEmail, &c.ContactPhone, &c.CreatedAt)
}

func (s *Store) GetCooperative(ctx context.Context, id int64) (*models.Cooperative, error) {
	var coop models.Cooperative
	err := scanCooperative(s.pool.QueryRow(ctx, `SELECT `+cooperativeColumns+` FROM cooperatives WHERE id = $1`, id), &coop)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("store.GetCooperative", "cooperative %d not found", id)
	}
	if err != nil {
		return nil, mapPostgresError("store.GetCooperative", err)
	}
	return &coop, nil
}

func (s *Store) ListCooperatives(ctx context.Context) ([]models.Cooperative, error) {
	const op = "store.ListCooperatives"
	rows, err := s.pool.Query(ctx, `SELECT `+cooperativeColumns+` FROM cooperatives ORDER BY name, id`)
	if err != nil {
		return nil, mapPostgresError(op, err)
	}
	defer rows.Close()

	coops := []models.Cooperative{}
	for rows.Next() {
		var c models.Cooperative
		if err := scanCooperative(rows, &c); err != nil {
			return nil, mapPostgresError(op, err)
		}
		coops = append(coops, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(op, err)
	}
	return coops, nil
}

func (s *Store) CreateFarmer(ctx context.Context, farmer *models.Farmer) error {
	const op = "store.CreateFarmer"
	if farmer.CreatedAt.IsZero() {
		farmer.CreatedAt = now()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO farmers (
			cooperative_id, farmer_code, first_name, last_name, phone,
			farm_location, farm_size_hectares, certification, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		farmer.CooperativeID, farmer.FarmerCode, farmer.FirstName, farmer.LastName, farmer.Phone,
		farmer.FarmLocation, farmer.FarmSizeHectares, farmer.Certification, farmer.CreatedAt,
	).Scan(&farmer.ID)
	if err != nil {
		mapped := mapPostgresError(op, err)
		if apperror.KindOf(mapped) == apperror.KindNotFound {
			return apperror.NotFound(op, "cooperative %d not found", farmer.CooperativeID)
		}
		return mapped
	}
	return nil
}

const farmerSelect = `
	SELECT f.id, f.cooperative_id, f.farmer_code, f.first_name, f.last_name, f.phone,
		f.farm_location, f.farm_size_hectares, f.certification, f.created_at, c.name
	FROM farmers f
	LEFT JOIN cooperatives c ON f.cooperative_id = c.id`

func scanFarmer(row pgx.Row, f *models.Farmer) error {
	var coopName *string
	err := row.Scan(&f.ID, &f.CooperativeID, &f.FarmerCode, &f.FirstName, &f.LastName, &f.Phone,
		&f.FarmLocation, &f.FarmSizeHectares, &f.Certification, &f.CreatedAt, &coopName)
	if err == nil && coopName != nil {
		f.CooperativeName = *coopName
	}
	return err
}

func (s *Store) GetFarmer(ctx context.Context, id int64) (*models.Farmer, error) {
	var farmer models.Farmer
	err := scanFarmer(s.pool.QueryRow(ctx, farmerSelect+` WHERE f.id = $1`, id), &farmer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("store.GetFarmer", "farmer %d not found", id)
	}
	if err != nil {
		return nil, mapPostgresError("store.GetFarmer", err)
	}
	return &farmer, nil
}

func (s *Store) ListFarmers(ctx context.Context, filter store.FarmerFilter) ([]models.Farmer, error) {
	const op = "store.ListFarmers"
	var p predicates
	if filter.CooperativeID != 0 {
		p.add("f.cooperative_id = $%d", filter.CooperativeID)
	}
	rows, err := s.pool.Query(ctx, farmerSelect+p.where()+` ORDER BY f.last_name, f.first_name, f.id`, p.args...)
	if err != nil {
		return nil, mapPostgresError(op, err)
	}
	defer rows.Close()

	farmers := []models.Farmer{}
	for rows.Next() {
		var f models.Farmer
		if err := scanFarmer(rows, &f); err != nil {
			return nil, mapPostgresError(op, err)
		}
		farmers = append(farmers, f)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(op, err)
	}
	return farmers, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch *models.HarvestBatch) error {
	const op = "store.CreateBatch"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPostgresError(op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var coopID int64
	err = tx.QueryRow(ctx, `SELECT cooperative_id FROM farmers WHERE id = $1 FOR SHARE`, batch.FarmerID).Scan(&coopID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(op, "farmer %d not found", batch.FarmerID)
	}
	if err != nil {
		return mapPostgresError(op, err)
	}

	batch.CooperativeID = coopID
	if batch.Status == "" {
		batch.Status = models.StatusLogged
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now()
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO harvest_batches (
			batch_code, farmer_id, cooperative_id, harvest_date, quantity_kg,
			quality_grade, variety, processing_method, notes, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		batch.BatchCode, batch.FarmerID, batch.CooperativeID, batch.HarvestDate, batch.QuantityKg,
		batch.QualityGrade, batch.Variety, batch.ProcessingMethod, batch.Notes, string(batch.Status), batch.CreatedAt,
	).Scan(&batch.ID)
	if err != nil {
		return mapPostgresError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPostgresError(op, err)
	}

	log.Debug().Int64("batch_id", batch.ID).Str("batch_code", batch.BatchCode).Msg("Created harvest batch")
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*models.HarvestBatch, error) {
	var r batchRow
	err := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM harvest_batches hb WHERE hb.id = $1`, id).Scan(r.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("store.GetBatch", "batch %d not found", id)
	}
	if err != nil {
		return nil, mapPostgresError("store.GetBatch", err)
	}
	b := r.batch()
	return &b, nil
}

func (s *Store) ListBatches(ctx context.Context, filter store.BatchFilter) ([]models.BatchListItem, error) {
	const op = "store.ListBatches"
	var p predicates
	if filter.CooperativeID != 0 {
		p.add("hb.cooperative_id = $%d", filter.CooperativeID)
	}
	if filter.FarmerID != 0 {
		p.add("hb.farmer_id = $%d", filter.FarmerID)
	}
	if filter.Status != "" {
		p.add("hb.status = $%d", string(filter.Status))
	}

	query := `
		SELECT ` + batchColumns + `,
			f.first_name, f.last_name, f.farmer_code, c.name
		FROM harvest_batches hb
		LEFT JOIN farmers f ON hb.farmer_id = f.id
		LEFT JOIN cooperatives c ON hb.cooperative_id = c.id` +
		p.where() + `
		ORDER BY hb.harvest_date DESC, hb.created_at DESC, hb.id DESC`

	rows, err := s.pool.Query(ctx, query, p.args...)
	if err != nil {
		return nil, mapPostgresError(op, err)
	}
	defer rows.Close()

	items := []models.BatchListItem{}
	for rows.Next() {
		var (
			r                           batchRow
			first, last, code, coopName *string
		)
		if err := rows.Scan(append(r.dest(), &first, &last, &code, &coopName)...); err != nil {
			return nil, mapPostgresError(op, err)
		}
		item := models.BatchListItem{HarvestBatch: r.batch()}
		if code != nil {
			f := models.Farmer{FirstName: deref(first), LastName: deref(last)}
			item.FarmerName = f.FullName()
			item.FarmerCode = *code
		}
		item.CooperativeName = deref(coopName)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(op, err)
	}
	return items, nil
}

func (s *Store) ResolveBatch(ctx context.Context, identifier string) (*models.TracedBatch, error) {
	const op = "store.ResolveBatch"
	id, code, _ := store.ParseIdentifier(identifier)

	// ids start at 1, so id 0 never matches when the identifier is not numeric
	rows, err := s.pool.Query(ctx, `
		SELECT `+batchColumns+`,
			f.id, f.first_name, f.last_name, f.farmer_code, f.farm_location, f.certification,
			c.id, c.name, c.location, c.country
		FROM harvest_batches hb
		LEFT JOIN farmers f ON hb.farmer_id = f.id
		LEFT JOIN cooperatives c ON hb.cooperative_id = c.id
		WHERE hb.id = $1 OR hb.batch_code = $2
		LIMIT 2
	`, id, code)
	if err != nil {
		return nil, mapPostgresError(op, err)
	}
	defer rows.Close()

	var traced []*models.TracedBatch
	for rows.Next() {
		var (
			r                                   batchRow
			farmerID, coopID                    *int64
			first, last, fcode, location, cert  *string
			coopName, coopLocation, coopCountry *string
		)
		dest := append(r.dest(),
			&farmerID, &first, &last, &fcode, &location, &cert,
			&coopID, &coopName, &coopLocation, &coopCountry)
		if err := rows.Scan(dest...); err != nil {
			return nil, mapPostgresError(op, err)
		}

		t := &models.TracedBatch{HarvestBatch: r.batch()}
		if farmerID != nil {
			t.Farmer = models.NewFarmerSummary(&models.Farmer{
				FirstName:     deref(first),
				LastName:      deref(last),
				FarmerCode:    deref(fcode),
				FarmLocation:  deref(location),
				Certification: deref(cert),
			})
		}
		if coopID != nil {
			t.Cooperative = &models.CooperativeSummary{
				Name:     deref(coopName),
				Location: deref(coopLocation),
				Country:  deref(coopCountry),
			}
		}
		traced = append(traced, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(op, err)
	}

	switch len(traced) {
	case 0:
		return nil, apperror.NotFound(op, "batch %q not found", identifier)
	case 1:
		return traced[0], nil
	}
	return nil, apperror.Conflict(op, "identifier %q matches more than one batch", identifier)
}

func (s *Store) SetQRArtifactIfAbsent(ctx context.Context, batchID int64, artifact string) (string, error) {
	const op = "store.SetQRArtifactIfAbsent"

	// concurrent writers serialize on the row lock; losers re-check the
	// predicate against the committed value and update nothing
	var stored string
	err := s.pool.QueryRow(ctx, `
		UPDATE harvest_batches SET qr_code_artifact = $2
		WHERE id = $1 AND qr_code_artifact IS NULL
		RETURNING qr_code_artifact
	`, batchID, artifact).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", mapPostgresError(op, err)
	}

	var existing *string
	err = s.pool.QueryRow(ctx, `SELECT qr_code_artifact FROM harvest_batches WHERE id = $1`, batchID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperror.NotFound(op, "batch %d not found", batchID)
	}
	if err != nil {
		return "", mapPostgresError(op, err)
	}
	return deref(existing), nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID int64, from, to models.Status) error {
	const op = "store.UpdateBatchStatus"
	tag, err := s.pool.Exec(ctx, `
		UPDATE harvest_batches SET status = $3
		WHERE id = $1 AND status = $2
	`, batchID, string(from), string(to))
	if err != nil {
		return mapPostgresError(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM harvest_batches WHERE id = $1`, batchID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(op, "batch %d not found", batchID)
	}
	if err != nil {
		return mapPostgresError(op, err)
	}
	return apperror.State(op, "batch %d is %s, not %s", batchID, current, from)
}

func (s *Store) AggregateStats(ctx context.Context, cooperativeID int64, since time.Time) (*models.CooperativeStats, error) {
	stats := &models.CooperativeStats{CooperativeID: cooperativeID}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM farmers WHERE cooperative_id = $1),
			(SELECT COUNT(*) FROM harvest_batches WHERE cooperative_id = $1),
			(SELECT COALESCE(SUM(quantity_kg), 0) FROM harvest_batches WHERE cooperative_id = $1),
			(SELECT COUNT(*) FROM harvest_batches WHERE cooperative_id = $1 AND harvest_date >= $2::date)
	`, cooperativeID, since).Scan(&stats.FarmerCount, &stats.BatchCount, &stats.TotalKg, &stats.Recent30dCount)
	if err != nil {
		return nil, mapPostgresError("store.AggregateStats", err)
	}
	return stats, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	var coopID *int64
	if user.CooperativeID != 0 {
		coopID = &user.CooperativeID
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, role, cooperative_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, user.Email, user.Name, user.PasswordHash, user.Role, coopID, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return mapPostgresError("store.CreateUser", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "store.GetUserByEmail"
	var (
		user   models.User
		coopID *int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, cooperative_id, created_at
		FROM users WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Role, &coopID, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound(op, "user %q not found", email)
	}
	if err != nil {
		return nil, mapPostgresError(op, err)
	}
	if coopID != nil {
		user.CooperativeID = *coopID
	}
	return &user, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return mapPostgresError("store.Ping", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// now truncates to microseconds, the resolution of timestamptz.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
