package storage

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskboard-api/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	desc := "write it"
	due := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	created := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	in := domain.Task{
		ID: "t1", UserID: "u1", ListID: "l1", Title: "Report", Description: &desc,
		Status: domain.StatusDoing, Priority: 2, Tags: []string{"work", "a,b"},
		DueDate: &due, Position: 65536, CreatedAt: created, UpdatedAt: created,
	}
	ent, err := toTaskEntity(in)
	if err != nil {
		t.Fatalf("to entity: %v", err)
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"Position@odata.type":"Edm.Double"`, `"DueDate@odata.type":"Edm.Int64"`, `"PartitionKey":"u1"`} {
		if !strings.Contains(string(payload), want) {
			t.Fatalf("payload %s missing %s", payload, want)
		}
	}

	out, err := decodeTask(payload, `W/"etag-1"`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Version != `W/"etag-1"` || out.ListID != "l1" || out.Position != 65536 {
		t.Fatalf("unexpected task: %+v", out)
	}
	if out.Description == nil || *out.Description != desc || out.DueDate == nil || !out.DueDate.Equal(due) {
		t.Fatalf("optional fields lost: %+v", out)
	}
	if len(out.Tags) != 2 || out.Tags[1] != "a,b" || !out.CreatedAt.Equal(created) {
		t.Fatalf("unexpected tags or timestamps: %+v", out)
	}
}

func TestTaskEntityOmitsEmptyOptionals(t *testing.T) {
	ent, err := toTaskEntity(domain.Task{ID: "t1", UserID: "u1", ListID: "l1", Status: domain.StatusTodo, Priority: 3})
	if err != nil {
		t.Fatalf("to entity: %v", err)
	}
	payload, _ := json.Marshal(ent)
	if strings.Contains(string(payload), "DueDate") || strings.Contains(string(payload), "Description") {
		t.Fatalf("unexpected optional fields: %s", payload)
	}
	out, err := decodeTask(payload, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Tags == nil || len(out.Tags) != 0 {
		t.Fatalf("expected empty tags, got %#v", out.Tags)
	}
}

func TestListEntityUsesListingETag(t *testing.T) {
	payload := []byte(`{"odata.etag":"W/\"x\"","PartitionKey":"u1","RowKey":"l1","Title":"Inbox","Position":66560.5,"CreatedAt":"0","UpdatedAt":"0"}`)
	l, err := decodeList(payload, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if l.Version != `W/"x"` || l.UserID != "u1" || l.Position != 66560.5 {
		t.Fatalf("unexpected list: %+v", l)
	}
}

func TestTransactionBuildsActions(t *testing.T) {
	s := &Tables{}
	now := time.Now()
	actions, err := s.transaction(domain.Batch{
		UserID:  "u1",
		Kind:    domain.KindTask,
		NewTask: &domain.Task{ID: "t3", UserID: "u1", ListID: "l1", CreatedAt: now, UpdatedAt: now},
		Placements: []domain.Placement{
			{ID: "t1", Position: 65536, Version: `W/"1"`},
			{ID: "t2", ListID: "l2", Position: 66560},
		},
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	if actions[0].ActionType != aztables.TransactionTypeAdd {
		t.Fatalf("expected add first, got %v", actions[0].ActionType)
	}
	if actions[1].ActionType != aztables.TransactionTypeUpdateMerge || *actions[1].IfMatch != azcore.ETag(`W/"1"`) {
		t.Fatalf("unexpected placement action: %+v", actions[1])
	}
	if *actions[2].IfMatch != azcore.ETagAny {
		t.Fatalf("expected wildcard etag without version")
	}
	var moved placementEntity
	if err := json.Unmarshal(actions[2].Entity, &moved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if moved.ListID != "l2" || moved.PartitionKey != "u1" || moved.PositionType != edmDouble {
		t.Fatalf("unexpected placement entity: %+v", moved)
	}
}

func TestTransactionLimit(t *testing.T) {
	s := &Tables{}
	placements := make([]domain.Placement, maxTransactionSize+1)
	for i := range placements {
		placements[i] = domain.Placement{ID: "x", Position: float64(i)}
	}
	_, err := s.transaction(domain.Batch{UserID: "u1", Kind: domain.KindList, Placements: placements})
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if _, err := s.transaction(domain.Batch{UserID: "u1", Kind: domain.KindList, Placements: placements[:maxTransactionSize]}); err != nil {
		t.Fatalf("expected full transaction to fit: %v", err)
	}
}

func TestMapTablesError(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}, domain.ErrNotFound},
		{&azcore.ResponseError{StatusCode: http.StatusPreconditionFailed, ErrorCode: "UpdateConditionNotSatisfied"}, domain.ErrConflict},
		{&azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "EntityAlreadyExists"}, domain.ErrConflict},
	}
	for _, tc := range cases {
		if got := mapTablesError(tc.err); !errors.Is(got, tc.want) {
			t.Fatalf("%v: expected %v, got %v", tc.err, tc.want, got)
		}
	}
	other := errors.New("boom")
	if got := mapTablesError(other); got != other {
		t.Fatalf("expected passthrough, got %v", got)
	}
	if mapTablesError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestKeysAndQuoting(t *testing.T) {
	if emailKey(" Ada@Example.com") != emailKey("ada@example.com") {
		t.Fatalf("email keys must ignore case and spaces")
	}
	if strings.ContainsAny(emailKey("a/b#c?d@x.y"), "/\\#?") {
		t.Fatalf("email key contains characters forbidden in row keys")
	}
	if len(tokenKey("abc")) != 64 {
		t.Fatalf("unexpected token key length")
	}
	if got := odataQuote("o'brien"); got != "'o''brien'" {
		t.Fatalf("unexpected quoting: %s", got)
	}
}
