package domain

import (
	"encoding/json"
	"fmt"
)

// EntityType identifies one synchronized collection.
type EntityType string

const (
	EntitySymptom     EntityType = "symptom"
	EntityTreatment   EntityType = "treatment"
	EntityAppointment EntityType = "appointment"
	EntityBlogPost    EntityType = "blog-post"
)

// EntityTypes lists every synchronized collection in a fixed order.
var EntityTypes = []EntityType{EntitySymptom, EntityTreatment, EntityAppointment, EntityBlogPost}

// Known reports whether t names one of the synchronized collections.
func (t EntityType) Known() bool {
	switch t {
	case EntitySymptom, EntityTreatment, EntityAppointment, EntityBlogPost:
		return true
	}
	return false
}

// Scoped reports whether records of this type belong to a single owner.
// Blog posts are globally visible.
func (t EntityType) Scoped() bool { return t != EntityBlogPost }

// Operation is the kind of mutation a ChangeEvent describes.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

// ChangeEvent is the wire form of one mutation to one record. Created and
// Updated events carry the full record payload; Deleted events carry only
// the record id.
type ChangeEvent struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entityType"`
	Op         Operation       `json:"op"`
	RecordID   string          `json:"recordId"`
	OwnerID    string          `json:"ownerId,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// Validate checks the event's tagged-variant shape.
func (e ChangeEvent) Validate() error {
	if !e.EntityType.Known() {
		return fmt.Errorf("unknown entity type %q", e.EntityType)
	}
	if e.RecordID == "" {
		return fmt.Errorf("%s event without record id", e.Op)
	}
	switch e.Op {
	case OpCreated, OpUpdated:
		if len(e.Record) == 0 {
			return fmt.Errorf("%s event for %s %s without record payload", e.Op, e.EntityType, e.RecordID)
		}
		return nil
	case OpDeleted:
		return nil
	default:
		return fmt.Errorf("unknown operation %q", e.Op)
	}
}

// ChannelFor returns the pub/sub channel carrying change events for t.
func ChannelFor(t EntityType) string { return "changes:" + string(t) }
