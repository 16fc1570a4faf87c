package models

import "time"

const (
	RoleAdmin  = "admin"
	RoleFarmer = "farmer"
	RoleBuyer  = "buyer"
)

// User is an account allowed to log in to the API.
type User struct {
	ID            int64     `bson:"_id" json:"id"`
	Email         string    `bson:"email" json:"email"`
	Name          string    `bson:"name" json:"name"`
	PasswordHash  string    `bson:"password_hash" json:"-"`
	Role          string    `bson:"role" json:"role"`
	CooperativeID int64     `bson:"cooperative_id,omitempty" json:"cooperative_id,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}
