package domain

import "time"

// Record is implemented by every synchronized entity payload. RecordID is
// unique and immutable within a collection; Owner is empty for globally
// visible records; Anchor is the temporal field the default sort order uses.
type Record interface {
	RecordID() string
	Owner() string
	Anchor() time.Time
}
