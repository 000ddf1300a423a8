package domain

import "time"

type RecordStatus string

const (
	RecordStatusActive   RecordStatus = "active"
	RecordStatusInactive RecordStatus = "inactive"
	RecordStatusArchived RecordStatus = "archived"
)

// RecordStatuses lists the accepted status values in display order.
var RecordStatuses = []RecordStatus{RecordStatusActive, RecordStatusInactive, RecordStatusArchived}

func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusActive, RecordStatusInactive, RecordStatusArchived:
		return true
	default:
		return false
	}
}

// Record is a catalog entry accepted by the intake API.
//
// SKU is the business key and is unique among all records. CreatedAt is assigned
// by the store at insert time; together with ID it forms the listing order key.
type Record struct {
	ID     RecordID
	SKU    string
	Title  string
	Status RecordStatus

	Brand    *string
	Category *string

	CreatedAt time.Time
}
