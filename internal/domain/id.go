package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for application-owned entities.
// UUIDv7 sorts roughly by creation time, which keeps command ids readable
// in ledger listings.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
