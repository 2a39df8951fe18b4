package model

import "time"

// Restaurant represents a row in the `restaurants` table.  A restaurant
// owns exactly one waitlist and carries the aggregate wait time shown to
// customers before they join.
//
// Fields:
//  ID              – UUID primary key.
//  OwnerID         – users.id of the OWNER managing the restaurant (0 when unowned).
//  Name            – display name.
//  Address         – street address (optional).
//  Phone           – contact phone number (optional).
//  CurrentWaitTime – aggregate wait in minutes; never negative.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Restaurant struct {
	ID              string    `json:"id"`                // restaurants.id
	OwnerID         uint64    `json:"owner_id"`          // restaurants.owner_id
	Name            string    `json:"name"`              // restaurants.name
	Address         string    `json:"address,omitempty"` // restaurants.address
	Phone           string    `json:"phone,omitempty"`   // restaurants.phone
	CurrentWaitTime int       `json:"current_wait_time"` // restaurants.current_wait_time
	CreatedAt       time.Time `json:"created_at"`        // restaurants.created_at
	UpdatedAt       time.Time `json:"updated_at"`        // restaurants.updated_at
}

// Snapshot is the authoritative state of one restaurant after a committed
// mutation: the restaurant record and its waiting parties ordered by
// creation time, each carrying its derived position.
type Snapshot struct {
	Restaurant Restaurant      `json:"restaurant"`
	Waitlist   []WaitlistEntry `json:"waitlist"`
}
