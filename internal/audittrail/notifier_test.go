package audittrail

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

func sampleEvent() domain.ReconciliationEvent {
	plan := domain.ReconciliationPlan{
		SessionID:   "s-1",
		ScopeID:     "scope-1",
		PerformedBy: "Kim",
		Deltas:      []domain.LedgerDelta{{EntryID: 1, Delta: -2}, {EntryID: 2, Delta: 1}},
	}
	outcome := domain.ReconciliationOutcome{
		Ledger: []domain.LedgerState{{EntryID: 1, CurrentStock: 3, MinStock: 5}, {EntryID: 2, CurrentStock: 9}},
	}
	return NewEvent(plan, outcome, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
}

func TestNewEvent(t *testing.T) {
	event := sampleEvent()

	assert.Equal(t, "2 mismatches applied", event.Summary)
	assert.Equal(t, 2, event.MismatchCount)
	assert.Equal(t, "scope-1", event.HospitalScopeID)
	assert.Len(t, event.Ledger, 2)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	undo := zap.ReplaceGlobals(zap.New(core))
	defer undo()

	Multi{LogNotifier{}, LogNotifier{}}.Notify(context.Background(), sampleEvent())

	entries := logs.FilterMessage("2 mismatches applied").All()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ContextMap()["shortages"])
	assert.Equal(t, "s-1", entries[0].ContextMap()["session_id"])
}

func TestPubSubNotifier(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := NewPubSubClient(ctx, "audit-project", "", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.CreateTopic(ctx, "reconciliations")
	require.NoError(t, err)

	n := NewPubSubNotifier(client, "reconciliations")
	n.Notify(ctx, sampleEvent())
	n.Stop()

	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)

	msg := srv.Messages()[0]
	assert.Equal(t, "s-1", msg.Attributes["session_id"])

	var got domain.ReconciliationEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "2 mismatches applied", got.Summary)
	assert.Equal(t, []domain.LedgerState{{EntryID: 1, CurrentStock: 3, MinStock: 5}, {EntryID: 2, CurrentStock: 9}}, got.Ledger)
}
