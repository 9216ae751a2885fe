package models

import "time"

// User represents an application user. Sub is the stable identity carried by
// the auth token; Favorites is a read-optimized mirror of the books the user
// has starred (the star set on the book itself is authoritative).
type User struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Sub       string    `bson:"sub" json:"sub"`
	Email     string    `bson:"email" json:"email"`
	Name      string    `bson:"name" json:"name"`
	Role      string    `bson:"role" json:"role"` // "teacher" or "student"
	Favorites []string  `bson:"favorites,omitempty" json:"favorites,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
