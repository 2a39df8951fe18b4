package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a waitlist entry.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusSeated    Status = "seated"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// ParseStatus normalizes s and reports whether it names a known status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusWaiting, StatusSeated, StatusCancelled, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSeated || s == StatusCancelled || s == StatusNoShow
}

// CanTransition reports whether an entry in status s may move to next.
// waiting is the only initial state and the only state with outgoing edges.
func (s Status) CanTransition(next Status) bool {
	return s == StatusWaiting && next.Terminal()
}

// WaitlistEntry mirrors the `waitlist_entries` table.  Position is never
// stored; it is filled in when a ranked waiting list is built.
//
// Fields:
//  ID                – UUID of the entry.
//  RestaurantID      – owning restaurant.
//  CustomerName      – name the party is called by.
//  PartySize         – number of guests, at least 1.
//  PhoneNumber       – contact number; also used for self-service cancel.
//  Notes             – optional free text (high chair, patio...).
//  Status            – waiting, seated, cancelled or no_show.
//  EstimatedWaitTime – minutes; nil until computed, frozen once terminal.
//  ConsentGiven      – customer agreed to be contacted.
//  Position          – derived 1-based rank among waiting entries.
//  CreatedAt         – join time, defines the queue order.
//  UpdatedAt         – last update timestamp.
type WaitlistEntry struct {
	ID                string    `json:"id"`
	RestaurantID      string    `json:"restaurant_id"`
	CustomerName      string    `json:"customer_name"`
	PartySize         int       `json:"party_size"`
	PhoneNumber       string    `json:"phone_number"`
	Notes             *string   `json:"notes,omitempty"`
	Status            Status    `json:"status"`
	EstimatedWaitTime *int      `json:"estimated_wait_time"`
	ConsentGiven      bool      `json:"consent_given"`
	Position          int       `json:"position,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Wait returns the estimated wait or 0 when it has not been computed.
func (e WaitlistEntry) Wait() int {
	if e.EstimatedWaitTime == nil {
		return 0
	}
	return *e.EstimatedWaitTime
}

// SetWait stores minutes as the entry's estimated wait.
func (e *WaitlistEntry) SetWait(minutes int) {
	m := minutes
	e.EstimatedWaitTime = &m
}
