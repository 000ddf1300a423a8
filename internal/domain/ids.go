package domain

// RecordID is the store-assigned numeric identity of a record.
// IDs are monotonic and never reused.
type RecordID int64
