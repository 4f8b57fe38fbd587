package storage

import (
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskboard-api/domain"
)

const (
	edmInt64  = "Edm.Int64"
	edmDouble = "Edm.Double"
)

type listEntity struct {
	aztables.Entity
	ETag          string  `json:"odata.etag,omitempty"`
	Title         string  `json:"Title"`
	Position      float64 `json:"Position"`
	PositionType  string  `json:"Position@odata.type"`
	CreatedAt     int64   `json:"CreatedAt,string"`
	CreatedAtType string  `json:"CreatedAt@odata.type"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

type taskEntity struct {
	aztables.Entity
	ETag          string  `json:"odata.etag,omitempty"`
	ListID        string  `json:"ListID"`
	Title         string  `json:"Title"`
	Description   *string `json:"Description,omitempty"`
	Status        string  `json:"Status"`
	Priority      int     `json:"Priority"`
	Tags          string  `json:"Tags"`
	DueDate       *int64  `json:"DueDate,omitempty,string"`
	DueDateType   *string `json:"DueDate@odata.type,omitempty"`
	Position      float64 `json:"Position"`
	PositionType  string  `json:"Position@odata.type"`
	CreatedAt     int64   `json:"CreatedAt,string"`
	CreatedAtType string  `json:"CreatedAt@odata.type"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

// placementEntity is merged into an existing list or task row.
type placementEntity struct {
	aztables.Entity
	ListID       string  `json:"ListID,omitempty"`
	Position     float64 `json:"Position"`
	PositionType string  `json:"Position@odata.type"`
}

type userEntity struct {
	aztables.Entity
	Name          string `json:"Name"`
	Email         string `json:"Email"`
	PasswordHash  string `json:"PasswordHash"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

// emailEntity maps a normalized email to its user.
type emailEntity struct {
	aztables.Entity
	UserID string `json:"UserID"`
}

type tokenEntity struct {
	aztables.Entity
	UserID        string `json:"UserID"`
	Token         string `json:"Token"`
	ExpiresAt     int64  `json:"ExpiresAt,string"`
	ExpiresAtType string `json:"ExpiresAt@odata.type"`
}

func toListEntity(l domain.List) listEntity {
	return listEntity{
		Entity:        aztables.Entity{PartitionKey: l.UserID, RowKey: l.ID},
		Title:         l.Title,
		Position:      l.Position,
		PositionType:  edmDouble,
		CreatedAt:     l.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     l.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
}

func (e listEntity) toDomain() domain.List {
	return domain.List{
		ID:        e.RowKey,
		UserID:    e.PartitionKey,
		Title:     e.Title,
		Position:  e.Position,
		CreatedAt: time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, e.UpdatedAt).UTC(),
		Version:   e.ETag,
	}
}

func toTaskEntity(t domain.Task) (taskEntity, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		Entity:        aztables.Entity{PartitionKey: t.UserID, RowKey: t.ID},
		ListID:        t.ListID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      t.Priority,
		Tags:          string(encoded),
		Position:      t.Position,
		PositionType:  edmDouble,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
	if t.DueDate != nil {
		due := t.DueDate.UnixNano()
		typ := edmInt64
		ent.DueDate = &due
		ent.DueDateType = &typ
	}
	return ent, nil
}

func (e taskEntity) toDomain() (domain.Task, error) {
	t := domain.Task{
		ID:          e.RowKey,
		UserID:      e.PartitionKey,
		ListID:      e.ListID,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Priority:    e.Priority,
		Tags:        []string{},
		Position:    e.Position,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, e.UpdatedAt).UTC(),
		Version:     e.ETag,
	}
	if e.Tags != "" {
		if err := json.Unmarshal([]byte(e.Tags), &t.Tags); err != nil {
			return domain.Task{}, err
		}
	}
	if e.DueDate != nil {
		due := time.Unix(0, *e.DueDate).UTC()
		t.DueDate = &due
	}
	return t, nil
}

func decodeList(data []byte, etag string) (domain.List, error) {
	var ent listEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.List{}, err
	}
	if etag != "" {
		ent.ETag = etag
	}
	return ent.toDomain(), nil
}

func decodeTask(data []byte, etag string) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	if etag != "" {
		ent.ETag = etag
	}
	return ent.toDomain()
}
