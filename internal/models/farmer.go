// internal/models/farmer.go
package models

import "time"

// Farmer belongs to exactly one cooperative for its whole lifetime.
// FarmerCode is unique within the cooperative, e.g. "HN-001".
type Farmer struct {
	ID               int64     `bson:"_id" json:"id"`
	CooperativeID    int64     `bson:"cooperative_id" json:"cooperative_id"`
	FarmerCode       string    `bson:"farmer_code" json:"farmer_code"`
	FirstName        string    `bson:"first_name" json:"first_name"`
	LastName         string    `bson:"last_name" json:"last_name"`
	Phone            string    `bson:"phone,omitempty" json:"phone,omitempty"`
	FarmLocation     string    `bson:"farm_location,omitempty" json:"farm_location,omitempty"`
	FarmSizeHectares float64   `bson:"farm_size_hectares,omitempty" json:"farm_size_hectares,omitempty"`
	Certification    string    `bson:"certification,omitempty" json:"certification,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`

	// CooperativeName is filled by listing queries only.
	CooperativeName string `bson:"-" json:"cooperative_name,omitempty"`
}

// FullName joins given name and surname the way listings display it.
func (f *Farmer) FullName() string {
	switch {
	case f.FirstName == "":
		return f.LastName
	case f.LastName == "":
		return f.FirstName
	}
	return f.FirstName + " " + f.LastName
}
