// Package relay applies queued CRUD commands to the entity tables and
// publishes the resulting change events. It is the only writer of the
// tables and the only publisher of the change channels, which is what makes
// server-confirmed events the sole mutation path into client stores.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
	"github.com/Jb-rown/embrace-cancer-care-sub000/storage"
)

// Tables is the slice of storage the relay writes through.
type Tables interface {
	GetRow(ctx context.Context, entity domain.EntityType, ownerID, id string) (*storage.Row, error)
	UpsertRow(ctx context.Context, entity domain.EntityType, ownerID, id string, record []byte, ts int64) error
	DeleteRow(ctx context.Context, entity domain.EntityType, ownerID, id string) error
}

// Service applies command envelopes and fans the confirmed change out.
type Service struct {
	tables Tables
	rc     *redis.Client
	log    *log.Logger
}

// NewService creates a relay service. rc may be nil in tests that only
// exercise Apply.
func NewService(tables Tables, rc *redis.Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{tables: tables, rc: rc, log: logger}
}

// normalizeRecord decodes the command payload as the typed record and pins
// its id and owner to the envelope's, so a client cannot write into another
// user's collection by mislabeling the payload.
func normalizeRecord(entity domain.EntityType, ownerID, id string, data []byte) ([]byte, error) {
	switch entity {
	case domain.EntitySymptom:
		var r domain.Symptom
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		r.ID, r.UserID = id, ownerID
		return json.Marshal(r)
	case domain.EntityTreatment:
		var r domain.Treatment
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		r.ID, r.UserID = id, ownerID
		return json.Marshal(r)
	case domain.EntityAppointment:
		var r domain.Appointment
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		r.ID, r.UserID = id, ownerID
		return json.Marshal(r)
	case domain.EntityBlogPost:
		var r domain.BlogPost
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		r.ID = id
		return json.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
}

// Apply executes one command against the tables. It returns the change event
// to publish, or nil when the command was dropped as stale or redundant.
// Writes are last-writer-wins on the command timestamp: a command older than
// the stored record never regresses newer state.
func (s *Service) Apply(ctx context.Context, env domain.CommandEnvelope) (*domain.ChangeEvent, error) {
	cmd := env.Command
	if !cmd.EntityType.Known() {
		return nil, fmt.Errorf("unknown entity type %q", cmd.EntityType)
	}
	if cmd.EntityID == "" {
		return nil, fmt.Errorf("%s command without entity id", cmd.Op)
	}
	ownerID := env.UserID
	if !cmd.EntityType.Scoped() {
		ownerID = ""
	}

	switch cmd.Op {
	case domain.OpCreated, domain.OpUpdated:
		record, err := normalizeRecord(cmd.EntityType, ownerID, cmd.EntityID, cmd.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", cmd.EntityType, err)
		}
		existing, err := s.tables.GetRow(ctx, cmd.EntityType, ownerID, cmd.EntityID)
		if err != nil {
			return nil, err
		}
		if existing != nil && cmd.Timestamp <= existing.EventTimestamp {
			s.log.WithFields(log.Fields{
				"entity":  cmd.EntityType,
				"record":  cmd.EntityID,
				"ts":      cmd.Timestamp,
				"current": existing.EventTimestamp,
			}).Warn("dropping stale command")
			return nil, nil
		}
		if err := s.tables.UpsertRow(ctx, cmd.EntityType, ownerID, cmd.EntityID, record, cmd.Timestamp); err != nil {
			return nil, err
		}
		op := cmd.Op
		// A created echo for an id that already exists is an update in
		// disguise; keep the published variant honest.
		if op == domain.OpCreated && existing != nil {
			op = domain.OpUpdated
		}
		return &domain.ChangeEvent{
			ID:         cmd.ID,
			EntityType: cmd.EntityType,
			Op:         op,
			RecordID:   cmd.EntityID,
			OwnerID:    ownerID,
			Record:     record,
			Timestamp:  cmd.Timestamp,
		}, nil
	case domain.OpDeleted:
		existing, err := s.tables.GetRow(ctx, cmd.EntityType, ownerID, cmd.EntityID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// Nothing to remove and nothing changed, so no event either.
			return nil, nil
		}
		// Deletes race updates the same way writes race each other; an older
		// delete must not take out a newer row.
		if cmd.Timestamp <= existing.EventTimestamp {
			s.log.WithFields(log.Fields{
				"entity":  cmd.EntityType,
				"record":  cmd.EntityID,
				"ts":      cmd.Timestamp,
				"current": existing.EventTimestamp,
			}).Warn("dropping stale command")
			return nil, nil
		}
		if err := s.tables.DeleteRow(ctx, cmd.EntityType, ownerID, cmd.EntityID); err != nil {
			return nil, err
		}
		return &domain.ChangeEvent{
			ID:         cmd.ID,
			EntityType: cmd.EntityType,
			Op:         domain.OpDeleted,
			RecordID:   cmd.EntityID,
			OwnerID:    ownerID,
			Timestamp:  cmd.Timestamp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", cmd.Op)
	}
}

// Process decodes one queue message, applies it, publishes the confirmed
// change event and invalidates the affected list caches.
func (s *Service) Process(ctx context.Context, payload string) error {
	var env domain.CommandEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("decode command envelope: %w", err)
	}
	ev, err := s.Apply(ctx, env)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}
	if err := s.publish(ctx, *ev); err != nil {
		// The table write already landed; readers catch up on the next
		// bulk load even if this publish is lost.
		s.log.WithError(err).WithFields(log.Fields{
			"entity": ev.EntityType,
			"record": ev.RecordID,
		}).Error("unable to publish change event")
	}
	s.invalidateCaches(ctx, env.UserID, ev.EntityType)
	return nil
}

func (s *Service) publish(ctx context.Context, ev domain.ChangeEvent) error {
	if s.rc == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rc.Publish(ctx, domain.ChannelFor(ev.EntityType), string(data)).Err()
}

func (s *Service) invalidateCaches(ctx context.Context, userID string, entity domain.EntityType) {
	if s.rc == nil {
		return
	}
	keys := storage.CacheKeysFor(userID, entity)
	if len(keys) == 0 {
		return
	}
	if err := s.rc.Del(ctx, keys...).Err(); err != nil {
		s.log.WithError(err).WithField("user", userID).Error("unable to invalidate list caches")
	}
}
