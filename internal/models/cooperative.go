// internal/models/cooperative.go
package models

import "time"

// Cooperative owns farmers and their harvest batches.
type Cooperative struct {
	ID           int64     `bson:"_id" json:"id"`
	Name         string    `bson:"name" json:"name"`
	Location     string    `bson:"location" json:"location"`
	Country      string    `bson:"country" json:"country"`
	ContactEmail string    `bson:"contact_email,omitempty" json:"contact_email,omitempty"`
	ContactPhone string    `bson:"contact_phone,omitempty" json:"contact_phone,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}
