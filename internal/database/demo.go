package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/auth"
	"coffee-trace-api-server/internal/batch"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

// BatchCreator is the batch service entry point used for demo harvests, so
// seeded batches get real codes and pass the same validation as API writes.
type BatchCreator interface {
	CreateBatch(ctx context.Context, in batch.CreateBatchInput) (*models.HarvestBatch, error)
}

// BatchesPerFarmer is how many harvests SeedDemo records for a new farmer.
const BatchesPerFarmer = 3

type demoCooperative struct {
	coop    models.Cooperative
	admin   string
	farmers []models.Farmer
}

var demoData = []demoCooperative{
	{
		coop: models.Cooperative{
			Name: "Honduras Coffee Growers Cooperative", Location: "Santa Barbara", Country: "Honduras",
			ContactEmail: "info@hondurascoop.org", ContactPhone: "+504-9999-1234",
		},
		admin: "admin@hondurascoop.org",
		farmers: []models.Farmer{
			{FarmerCode: "HN-001", FirstName: "Carlos", LastName: "Martinez", Phone: "+504-9999-5001", FarmLocation: "Santa Barbara, Honduras", FarmSizeHectares: 2.5, Certification: "Fairtrade"},
			{FarmerCode: "HN-002", FirstName: "Maria", LastName: "Lopez", Phone: "+504-9999-5002", FarmLocation: "Copán, Honduras", FarmSizeHectares: 3.2, Certification: "Organic"},
			{FarmerCode: "HN-003", FirstName: "Juan", LastName: "Rodriguez", Phone: "+504-9999-5003", FarmLocation: "Intibucá, Honduras", FarmSizeHectares: 1.8, Certification: "Fairtrade"},
		},
	},
	{
		coop: models.Cooperative{
			Name: "Kenya Highlands Cooperative", Location: "Nyeri", Country: "Kenya",
			ContactEmail: "contact@kenyahighlands.co.ke", ContactPhone: "+254-700-123456",
		},
		admin: "admin@kenyahighlands.co.ke",
		farmers: []models.Farmer{
			{FarmerCode: "KE-001", FirstName: "James", LastName: "Kimani", Phone: "+254-700-456789", FarmLocation: "Nyeri, Kenya", FarmSizeHectares: 4.0, Certification: "Organic"},
			{FarmerCode: "KE-002", FirstName: "Grace", LastName: "Wanjiru", Phone: "+254-700-456790", FarmLocation: "Kirinyaga, Kenya", FarmSizeHectares: 2.7, Certification: "Fairtrade"},
		},
	},
}

var (
	demoVarieties  = []string{"Arabica Typica", "Arabica Bourbon", "Arabica Caturra", "SL28", "SL34"}
	demoGrades     = []string{"A", "AA", "AAA"}
	demoProcessing = []string{"Washed", "Natural", "Honey"}
)

// DemoSummary counts what SeedDemo created on this run.
type DemoSummary struct {
	Cooperatives int
	Admins       int
	Farmers      int
	Batches      int
}

// SeedDemo loads the Honduras and Kenya demo cooperatives with their admins,
// farmers and harvests. Records that already exist are left alone, and a
// farmer that already has batches gets no new ones, so reruns are no-ops.
// Harvest dates fall within the 90 days before now.
func SeedDemo(ctx context.Context, st store.Store, batches BatchCreator, password string, now time.Time) (*DemoSummary, error) {
	if password == "" {
		return nil, errors.New("demo password is required")
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash demo password: %w", err)
	}

	sum := &DemoSummary{}
	n := 0
	for _, d := range demoData {
		coop, created, err := ensureCooperative(ctx, st, d.coop)
		if err != nil {
			return nil, err
		}
		if created {
			sum.Cooperatives++
		}

		if _, err := st.GetUserByEmail(ctx, d.admin); errors.Is(err, apperror.ErrNotFound) {
			admin := &models.User{
				Email: d.admin, Name: coop.Name + " Admin", PasswordHash: hashed,
				Role: models.RoleAdmin, CooperativeID: coop.ID,
			}
			if err := st.CreateUser(ctx, admin); err != nil {
				return nil, fmt.Errorf("create admin %s: %w", d.admin, err)
			}
			sum.Admins++
		} else if err != nil {
			return nil, fmt.Errorf("look up admin %s: %w", d.admin, err)
		}

		existing, err := st.ListFarmers(ctx, store.FarmerFilter{CooperativeID: coop.ID})
		if err != nil {
			return nil, fmt.Errorf("list farmers: %w", err)
		}
		for _, tmpl := range d.farmers {
			farmer, created, err := ensureFarmer(ctx, st, coop.ID, tmpl, existing)
			if err != nil {
				return nil, err
			}
			if created {
				sum.Farmers++
			}

			have, err := st.ListBatches(ctx, store.BatchFilter{FarmerID: farmer.ID})
			if err != nil {
				return nil, fmt.Errorf("list batches: %w", err)
			}
			if len(have) > 0 {
				n += BatchesPerFarmer
				continue
			}
			for i := 0; i < BatchesPerFarmer; i++ {
				_, err := batches.CreateBatch(ctx, demoHarvest(farmer, n, now))
				if err != nil {
					return nil, fmt.Errorf("create demo batch for %s: %w", farmer.FarmerCode, err)
				}
				sum.Batches++
				n++
			}
		}
	}

	log.Info().
		Int("cooperatives", sum.Cooperatives).
		Int("admins", sum.Admins).
		Int("farmers", sum.Farmers).
		Int("batches", sum.Batches).
		Msg("Demo data seeded")
	return sum, nil
}

// demoHarvest spreads harvests over the last 90 days so both sides of the
// 30 day stats window are populated.
func demoHarvest(f *models.Farmer, n int, now time.Time) batch.CreateBatchInput {
	return batch.CreateBatchInput{
		FarmerID:         f.ID,
		CooperativeID:    f.CooperativeID,
		HarvestDate:      now.UTC().AddDate(0, 0, -(n*13)%90),
		QuantityKg:       float64(50 + (n*97)%450),
		QualityGrade:     demoGrades[n%len(demoGrades)],
		Variety:          demoVarieties[n%len(demoVarieties)],
		ProcessingMethod: demoProcessing[n%len(demoProcessing)],
		Notes:            "Good quality harvest, optimal weather conditions",
	}
}

func ensureCooperative(ctx context.Context, st store.Store, tmpl models.Cooperative) (*models.Cooperative, bool, error) {
	name := tmpl.Name
	coops, err := st.ListCooperatives(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("list cooperatives: %w", err)
	}
	for i := range coops {
		if coops[i].Name == name {
			return &coops[i], false, nil
		}
	}
	coop := tmpl
	if err := st.CreateCooperative(ctx, &coop); err != nil {
		return nil, false, fmt.Errorf("create cooperative %s: %w", name, err)
	}
	return &coop, true, nil
}

func ensureFarmer(ctx context.Context, st store.Store, coopID int64, tmpl models.Farmer, existing []models.Farmer) (*models.Farmer, bool, error) {
	for i := range existing {
		if existing[i].FarmerCode == tmpl.FarmerCode {
			return &existing[i], false, nil
		}
	}
	farmer := tmpl
	farmer.CooperativeID = coopID
	if err := st.CreateFarmer(ctx, &farmer); err != nil {
		return nil, false, fmt.Errorf("create farmer %s: %w", tmpl.FarmerCode, err)
	}
	return &farmer, true, nil
}
