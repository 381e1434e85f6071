package relay

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
	"github.com/Jb-rown/embrace-cancer-care-sub000/storage"
)

type rowKey struct {
	entity domain.EntityType
	owner  string
	id     string
}

type fakeTables struct {
	rows map[rowKey]storage.Row
}

func newFakeTables() *fakeTables {
	return &fakeTables{rows: make(map[rowKey]storage.Row)}
}

func (f *fakeTables) GetRow(ctx context.Context, entity domain.EntityType, ownerID, id string) (*storage.Row, error) {
	r, ok := f.rows[rowKey{entity, ownerID, id}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeTables) UpsertRow(ctx context.Context, entity domain.EntityType, ownerID, id string, record []byte, ts int64) error {
	f.rows[rowKey{entity, ownerID, id}] = storage.Row{Record: record, EventTimestamp: ts}
	return nil
}

func (f *fakeTables) DeleteRow(ctx context.Context, entity domain.EntityType, ownerID, id string) error {
	delete(f.rows, rowKey{entity, ownerID, id})
	return nil
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func symptomCommand(op domain.Operation, id string, ts int64, data string) domain.CommandEnvelope {
	return domain.CommandEnvelope{
		UserID: "u1",
		Command: domain.Command{
			ID:         "cmd-" + id,
			EntityType: domain.EntitySymptom,
			Op:         op,
			EntityID:   id,
			Data:       []byte(data),
			Timestamp:  ts,
		},
	}
}

func TestApplyCreateWritesRowAndEvent(t *testing.T) {
	tables := newFakeTables()
	svc := NewService(tables, nil, quietLogger())

	env := symptomCommand(domain.OpCreated, "a", 100, `{"symptomName":"Nausea","severity":4}`)
	ev, err := svc.Apply(context.Background(), env)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ev == nil || ev.Op != domain.OpCreated || ev.RecordID != "a" || ev.OwnerID != "u1" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	row, _ := tables.GetRow(context.Background(), domain.EntitySymptom, "u1", "a")
	if row == nil || row.EventTimestamp != 100 {
		t.Fatalf("row not written: %+v", row)
	}
	var rec domain.Symptom
	if err := json.Unmarshal(row.Record, &rec); err != nil {
		t.Fatalf("decode stored record: %v", err)
	}
	if rec.ID != "a" || rec.UserID != "u1" || rec.Name != "Nausea" {
		t.Fatalf("stored record wrong: %+v", rec)
	}
}

func TestApplyPinsPayloadIdentityToEnvelope(t *testing.T) {
	tables := newFakeTables()
	svc := NewService(tables, nil, quietLogger())

	env := symptomCommand(domain.OpCreated, "a", 100, `{"id":"spoof","userId":"victim","symptomName":"Nausea"}`)
	ev, err := svc.Apply(context.Background(), env)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	var rec domain.Symptom
	if err := json.Unmarshal(ev.Record, &rec); err != nil {
		t.Fatalf("decode event record: %v", err)
	}
	if rec.ID != "a" || rec.UserID != "u1" {
		t.Fatalf("payload identity not pinned: %+v", rec)
	}
	if _, ok := tables.rows[rowKey{domain.EntitySymptom, "victim", "spoof"}]; ok {
		t.Fatal("spoofed row written")
	}
}

func TestApplyDropsStaleCommand(t *testing.T) {
	tables := newFakeTables()
	svc := NewService(tables, nil, quietLogger())
	ctx := context.Background()

	if _, err := svc.Apply(ctx, symptomCommand(domain.OpCreated, "a", 200, `{"symptomName":"Nausea","severity":8}`)); err != nil {
		t.Fatalf("apply fresh: %v", err)
	}
	ev, err := svc.Apply(ctx, symptomCommand(domain.OpUpdated, "a", 100, `{"symptomName":"Nausea","severity":1}`))
	if err != nil {
		t.Fatalf("apply stale: %v", err)
	}
	if ev != nil {
		t.Fatalf("stale command produced an event: %+v", ev)
	}

	row, _ := tables.GetRow(ctx, domain.EntitySymptom, "u1", "a")
	var rec domain.Symptom
	_ = json.Unmarshal(row.Record, &rec)
	if rec.Severity != 8 {
		t.Fatalf("stale command regressed the row: %+v", rec)
	}
}

func TestApplyCreateOnExistingBecomesUpdate(t *testing.T) {
	tables := newFakeTables()
	svc := NewService(tables, nil, quietLogger())
	ctx := context.Background()

	if _, err := svc.Apply(ctx, symptomCommand(domain.OpCreated, "a", 100, `{"symptomName":"Nausea"}`)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	ev, err := svc.Apply(ctx, symptomCommand(domain.OpCreated, "a", 200, `{"symptomName":"Nausea","severity":5}`))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if ev.Op != domain.OpUpdated {
		t.Fatalf("expected updated event, got %s", ev.Op)
	}
}

func TestApplyDelete(t *testing.T) {
	tables := newFakeTables()
	svc := NewService(tables, nil, quietLogger())
	ctx := context.Background()

	if _, err := svc.Apply(ctx, symptomCommand(domain.OpCreated, "a", 100, `{"symptomName":"Nausea"}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	ev, err := svc.Apply(ctx, symptomCommand(domain.OpDeleted, "a", 200, ""))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ev.Op != domain.OpDeleted || len(ev.Record) != 0 {
		t.Fatalf("unexpected delete event: %+v", ev)
	}
	if row, _ := tables.GetRow(ctx, domain.EntitySymptom, "u1", "a"); row != nil {
		t.Fatal("row survived delete")
	}
}

func TestApplyDropsStaleDelete(t *testing.T) {
	tables := newFakeTables()
	svc := NewService(tables, nil, quietLogger())
	ctx := context.Background()

	if _, err := svc.Apply(ctx, symptomCommand(domain.OpUpdated, "a", 200, `{"symptomName":"Nausea","severity":8}`)); err != nil {
		t.Fatalf("apply fresh: %v", err)
	}
	ev, err := svc.Apply(ctx, symptomCommand(domain.OpDeleted, "a", 100, ""))
	if err != nil {
		t.Fatalf("apply stale delete: %v", err)
	}
	if ev != nil {
		t.Fatalf("stale delete produced an event: %+v", ev)
	}

	row, _ := tables.GetRow(ctx, domain.EntitySymptom, "u1", "a")
	if row == nil {
		t.Fatal("stale delete removed a newer row")
	}
}

func TestApplyDeleteAbsentRowIsNoOp(t *testing.T) {
	tables := newFakeTables()
	svc := NewService(tables, nil, quietLogger())

	ev, err := svc.Apply(context.Background(), symptomCommand(domain.OpDeleted, "missing", 100, ""))
	if err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	if ev != nil {
		t.Fatalf("delete of an absent row produced an event: %+v", ev)
	}
}

func TestApplyBlogPostUsesGlobalScope(t *testing.T) {
	tables := newFakeTables()
	svc := NewService(tables, nil, quietLogger())

	env := domain.CommandEnvelope{
		UserID: "provider-1",
		Command: domain.Command{
			EntityType: domain.EntityBlogPost,
			Op:         domain.OpCreated,
			EntityID:   "p1",
			Data:       []byte(`{"title":"Nutrition during chemo","content":"<p>Eat small meals.</p>"}`),
			Timestamp:  100,
		},
	}
	ev, err := svc.Apply(context.Background(), env)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ev.OwnerID != "" {
		t.Fatalf("post event must be unscoped, got owner %q", ev.OwnerID)
	}
	if _, ok := tables.rows[rowKey{domain.EntityBlogPost, "", "p1"}]; !ok {
		t.Fatal("post row not written under global scope")
	}
}

func TestProcessPublishesConfirmedEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	ps := rc.Subscribe(ctx, domain.ChannelFor(domain.EntitySymptom))
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = ps.Close() })

	// Prime a cache entry the relay must invalidate.
	keys := storage.CacheKeysFor("u1", domain.EntitySymptom)
	if err := mr.Set(keys[0], "stale"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	svc := NewService(newFakeTables(), rc, quietLogger())
	payload, _ := json.Marshal(symptomCommand(domain.OpCreated, "a", 100, `{"symptomName":"Nausea"}`))
	if err := svc.Process(ctx, string(payload)); err != nil {
		t.Fatalf("process: %v", err)
	}

	select {
	case msg := <-ps.Channel():
		var ev domain.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("decode published event: %v", err)
		}
		if ev.RecordID != "a" || ev.EntityType != domain.EntitySymptom {
			t.Fatalf("unexpected published event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}

	if mr.Exists(keys[0]) {
		t.Fatal("list cache not invalidated")
	}
}

func TestProcessRejectsMalformedEnvelope(t *testing.T) {
	svc := NewService(newFakeTables(), nil, quietLogger())
	if err := svc.Process(context.Background(), "not json"); err == nil {
		t.Fatal("expected decode error")
	}
}
