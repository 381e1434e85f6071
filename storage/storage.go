// Package storage provides access to the backing entity tables and the
// command queue.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

// globalPartition keys rows of unscoped collections (blog posts).
const globalPartition = "global"

const edmInt64 = "Edm.Int64"

// TableNames maps each entity type to its table.
type TableNames struct {
	Symptoms     string
	Treatments   string
	Appointments string
	Posts        string
}

func (t TableNames) forEntity(e domain.EntityType) string {
	switch e {
	case domain.EntitySymptom:
		return t.Symptoms
	case domain.EntityTreatment:
		return t.Treatments
	case domain.EntityAppointment:
		return t.Appointments
	case domain.EntityBlogPost:
		return t.Posts
	}
	return ""
}

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	tables       map[domain.EntityType]*aztables.Client
	commandQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr string, tables TableNames, commandQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	clients := make(map[domain.EntityType]*aztables.Client, len(domain.EntityTypes))
	for _, entity := range domain.EntityTypes {
		name := tables.forEntity(entity)
		if name == "" {
			return nil, fmt.Errorf("missing table name for %s", entity)
		}
		clients[entity] = svc.NewClient(name)
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, commandQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{tables: clients, commandQueue: cq}, nil
}

// partitionFor returns the partition key holding records owned by ownerID.
func partitionFor(entity domain.EntityType, ownerID string) string {
	if !entity.Scoped() {
		return globalPartition
	}
	return ownerID
}

// row is the table shape shared by all entity collections. The record itself
// is stored as one JSON column; EventTimestamp carries the last applied
// command's timestamp for the stale-write guard.
type row struct {
	aztables.Entity
	OwnerID            string `json:"OwnerId,omitempty"`
	Record             string `json:"Record"`
	EventTimestamp     int64  `json:"EventTimestamp,string"`
	EventTimestampType string `json:"EventTimestamp@odata.type"`
}

// Row is a stored record with its write timestamp.
type Row struct {
	Record         []byte
	EventTimestamp int64
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// GetRow fetches one stored record. A missing row yields (nil, nil).
func (s *Storage) GetRow(ctx context.Context, entity domain.EntityType, ownerID, id string) (*Row, error) {
	resp, err := s.tables[entity].GetEntity(ctx, partitionFor(entity, ownerID), id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ent row
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &Row{Record: []byte(ent.Record), EventTimestamp: ent.EventTimestamp}, nil
}

// UpsertRow replaces the stored record wholesale.
func (s *Storage) UpsertRow(ctx context.Context, entity domain.EntityType, ownerID, id string, record []byte, ts int64) error {
	ent := row{
		Entity:             aztables.Entity{PartitionKey: partitionFor(entity, ownerID), RowKey: id},
		OwnerID:            ownerID,
		Record:             string(record),
		EventTimestamp:     ts,
		EventTimestampType: edmInt64,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.tables[entity].UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// DeleteRow removes a record; deleting an absent row is a no-op.
func (s *Storage) DeleteRow(ctx context.Context, entity domain.EntityType, ownerID, id string) error {
	_, err := s.tables[entity].DeleteEntity(ctx, partitionFor(entity, ownerID), id, nil)
	if err != nil && isStatus(err, 404) {
		return nil
	}
	return err
}

// listRecords fetches and decodes the full collection for one scope.
func listRecords[T domain.Record](ctx context.Context, s *Storage, entity domain.EntityType, ownerID string) ([]T, error) {
	filter := "PartitionKey eq '" + partitionFor(entity, ownerID) + "'"
	pager := s.tables[entity].NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	records := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent row
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			var rec T
			if err := json.Unmarshal([]byte(ent.Record), &rec); err != nil {
				return nil, fmt.Errorf("decode %s row %s: %w", entity, ent.RowKey, err)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// ListSymptoms retrieves all symptoms for the provided user.
func (s *Storage) ListSymptoms(ctx context.Context, userID string) ([]domain.Symptom, error) {
	return listRecords[domain.Symptom](ctx, s, domain.EntitySymptom, userID)
}

// ListTreatments retrieves all treatments for the provided user.
func (s *Storage) ListTreatments(ctx context.Context, userID string) ([]domain.Treatment, error) {
	return listRecords[domain.Treatment](ctx, s, domain.EntityTreatment, userID)
}

// ListAppointments retrieves all appointments for the provided user.
func (s *Storage) ListAppointments(ctx context.Context, userID string) ([]domain.Appointment, error) {
	return listRecords[domain.Appointment](ctx, s, domain.EntityAppointment, userID)
}

// ListPosts retrieves every blog post; posts are globally visible.
func (s *Storage) ListPosts(ctx context.Context) ([]domain.BlogPost, error) {
	return listRecords[domain.BlogPost](ctx, s, domain.EntityBlogPost, "")
}

// EnqueueCommands sends the given commands to the command queue.
func (s *Storage) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	for _, cmd := range cmds {
		env := domain.CommandEnvelope{UserID: userID, Command: cmd}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.commandQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
