// internal/models/batch.go
package models

import "time"

// HarvestBatch is one logged harvest. BatchCode is the public identifier printed
// in the QR code; ID is the internal surrogate key.
type HarvestBatch struct {
	ID               int64     `bson:"_id" json:"id"`
	BatchCode        string    `bson:"batch_code" json:"batch_code"`
	FarmerID         int64     `bson:"farmer_id" json:"farmer_id"`
	CooperativeID    int64     `bson:"cooperative_id" json:"cooperative_id"`
	HarvestDate      time.Time `bson:"harvest_date" json:"harvest_date"`
	QuantityKg       float64   `bson:"quantity_kg" json:"quantity_kg"`
	QualityGrade     string    `bson:"quality_grade,omitempty" json:"quality_grade,omitempty"`
	Variety          string    `bson:"variety,omitempty" json:"variety,omitempty"`
	ProcessingMethod string    `bson:"processing_method,omitempty" json:"processing_method,omitempty"`
	Notes            string    `bson:"notes,omitempty" json:"notes,omitempty"`
	Status           Status    `bson:"status" json:"status"`
	QRCodeArtifact   string    `bson:"qr_code_artifact,omitempty" json:"qr_code_artifact,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}

// HasArtifact reports whether a QR artifact has already been bound to the batch.
func (b *HarvestBatch) HasArtifact() bool {
	return b.QRCodeArtifact != ""
}

// BatchListItem is a batch row joined with display names for listings.
type BatchListItem struct {
	HarvestBatch    `bson:",inline"`
	FarmerName      string `bson:"farmer_name,omitempty" json:"farmer_name,omitempty"`
	FarmerCode      string `bson:"farmer_code,omitempty" json:"farmer_code,omitempty"`
	CooperativeName string `bson:"cooperative_name,omitempty" json:"cooperative_name,omitempty"`
}

// FarmerSummary is the public part of a farmer shown on a traced batch.
type FarmerSummary struct {
	Name          string `json:"name"`
	FarmerCode    string `json:"farmer_code"`
	FarmLocation  string `json:"farm_location,omitempty"`
	Certification string `json:"certification,omitempty"`
}

// CooperativeSummary is the public part of a cooperative shown on a traced batch.
type CooperativeSummary struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Country  string `json:"country"`
}

// TracedBatch is the provenance view of a batch. Farmer and Cooperative are nil
// when the related record could not be found; the batch still resolves.
type TracedBatch struct {
	HarvestBatch
	Farmer      *FarmerSummary      `json:"farmer"`
	Cooperative *CooperativeSummary `json:"cooperative"`
}

// NewFarmerSummary builds the public farmer section, nil-safe.
func NewFarmerSummary(f *Farmer) *FarmerSummary {
	if f == nil {
		return nil
	}
	return &FarmerSummary{
		Name:          f.FullName(),
		FarmerCode:    f.FarmerCode,
		FarmLocation:  f.FarmLocation,
		Certification: f.Certification,
	}
}

// NewCooperativeSummary builds the public cooperative section, nil-safe.
func NewCooperativeSummary(c *Cooperative) *CooperativeSummary {
	if c == nil {
		return nil
	}
	return &CooperativeSummary{Name: c.Name, Location: c.Location, Country: c.Country}
}

// CooperativeStats is the dashboard rollup for one cooperative.
type CooperativeStats struct {
	CooperativeID  int64   `json:"cooperative_id"`
	FarmerCount    int64   `json:"total_farmers"`
	BatchCount     int64   `json:"total_batches"`
	TotalKg        float64 `json:"total_quantity_kg"`
	Recent30dCount int64   `json:"recent_batches_30d"`
}

// QRArtifact is what the QR endpoint returns.
type QRArtifact struct {
	BatchID   int64  `json:"batch_id"`
	BatchCode string `json:"batch_code"`
	DataURI   string `json:"qr_code"`
}
