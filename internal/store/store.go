// Package store persists participant credentials and the two-slot
// registration table.
//
// Keys:
//
//	athlete:<id>  JSON Credential
//	slot:1        athlete id holding slot 1
//	slot:2        athlete id holding slot 2
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a participant has no stored credential.
	ErrNotFound = errors.New("credential not found")

	// ErrSlotsFull is returned by ClaimSlot when two other participants hold both slots.
	ErrSlotsFull = errors.New("both duel slots are taken")
)

// SlotCount is the number of participants in a duel.
const SlotCount = 2

// Credential is everything stored per participant.
type Credential struct {
	AthleteID string `json:"athlete_id"`
	Name      string `json:"name"`
	Profile   string `json:"profile"`

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds
}

// TokenSet is the triple rotated on every successful refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// CredentialStore reads and writes participant credentials.
type CredentialStore interface {
	// Get returns ErrNotFound when id has no record.
	Get(ctx context.Context, id string) (*Credential, error)
	Put(ctx context.Context, id string, cred *Credential) error
	// UpdateTokens overwrites the token triple in place, keeping profile fields.
	UpdateTokens(ctx context.Context, id string, tokens TokenSet) error
}

// SlotTable is the first-come registration table for the two duel slots.
type SlotTable interface {
	// Slots returns the athlete ids in slot order; unclaimed slots are "".
	Slots(ctx context.Context) ([SlotCount]string, error)
	// ClaimSlot atomically assigns id to the first free slot and returns
	// its 1-based number. A participant that already holds a slot keeps it.
	ClaimSlot(ctx context.Context, id string) (int, error)
}

// Store is the full persistence surface.
type Store interface {
	CredentialStore
	SlotTable
	Close() error
}

func credentialKey(id string) []byte {
	return []byte("athlete:" + id)
}

func slotKey(n int) []byte {
	return []byte{'s', 'l', 'o', 't', ':', byte('0' + n)}
}

// claim applies the slot assignment rule to a snapshot of the table.
// It returns the slot for id and whether the table changed.
func claim(slots [SlotCount]string, id string) (int, bool, error) {
	for i, holder := range slots {
		if holder == id {
			return i + 1, false, nil
		}
	}
	for i, holder := range slots {
		if holder == "" {
			return i + 1, true, nil
		}
	}
	return 0, false, ErrSlotsFull
}
