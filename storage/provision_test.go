package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

func TestAlreadyExists(t *testing.T) {
	tableExists := &azcore.ResponseError{ErrorCode: string(aztables.TableAlreadyExists), StatusCode: 409}
	tests := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{name: "table exists", err: tableExists, code: string(aztables.TableAlreadyExists), want: true},
		{name: "wrapped", err: fmt.Errorf("create: %w", tableExists), code: string(aztables.TableAlreadyExists), want: true},
		{name: "other code", err: &azcore.ResponseError{ErrorCode: "AuthorizationFailure"}, code: queueAlreadyExists},
		{name: "plain error", err: errors.New("dial tcp"), code: queueAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := alreadyExists(tt.err, tt.code); got != tt.want {
				t.Fatalf("alreadyExists = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreateTablesRejectsBadConnectionString(t *testing.T) {
	if err := CreateTables(context.Background(), "not-a-connection-string", "Lists"); err == nil {
		t.Fatalf("expected error for malformed connection string")
	}
}

func TestCreateQueuesSkipsBlankNames(t *testing.T) {
	if err := CreateQueues(context.Background(), "not-a-connection-string", "", ""); err != nil {
		t.Fatalf("expected blank names to be skipped, got %v", err)
	}
}
