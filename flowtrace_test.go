package flowtrace

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

// TestSQLiteLedger_DurableAcrossRestart demonstrates that a suspended flow
// node instance survives a simulated process restart: after reopening the
// database and building a fresh ledger, the instance is found by the
// recovery queries and can be resumed.
func TestSQLiteLedger_DurableAcrossRestart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPath := filepath.Join(t.TempDir(), "flowtrace.db")
	dsn := "file:" + dbPath + "?_journal=WAL"

	// --- Phase 1: run up to a waiting user task, then "crash".

	db1, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	ledger1, err := NewSQLiteLedger(db1)
	require.NoError(t, err)

	token := ProcessToken{
		ProcessInstanceID: "pi-offer",
		ProcessModelID:    "hiring",
		CorrelationID:     "candidate-42",
		Payload:           "screening",
	}

	rec := NewRecorder(ledger1)

	start, err := rec.Enter(ctx, FlowNode{ID: "start", Type: BpmnStartEvent}, token)
	require.NoError(t, err)
	_, err = rec.Exit(ctx, start, token)
	require.NoError(t, err)

	task, err := rec.EnterAfter(ctx, FlowNode{ID: "interview", Type: BpmnUserTask, Name: "Interview"}, token, start.ID)
	require.NoError(t, err)
	_, err = rec.Suspend(ctx, task, token)
	require.NoError(t, err)

	// Simulate a crash by closing the DB and discarding the ledger.
	require.NoError(t, db1.Close())

	// --- Phase 2: restart with a new DB handle and a new ledger.

	db2, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db2.Close()

	ledger2, err := NewSQLiteLedger(db2)
	require.NoError(t, err)

	// The recovery query finds the waiting step again.
	stuck, err := ActiveInstances(ctx, ledger2)
	require.NoError(t, err)
	require.Len(t, stuck, 1, "only the suspended task should still be active")
	require.Equal(t, task.ID, stuck[0].ID)
	require.Equal(t, StateSuspended, stuck[0].State)

	waiting, err := SuspendedInstances(ctx, ledger2, "pi-offer")
	require.NoError(t, err)
	require.Len(t, waiting, 1)

	// Correlating an incoming result to the waiting step works too.
	found, err := ledger2.GetSpecificFlowNode(ctx, "candidate-42", "hiring", "interview")
	require.NoError(t, err)
	require.Equal(t, task.ID, found.ID)

	// Resume and finish on the new ledger.
	updated := token
	updated.Payload = "offer-extended"

	resumed, err := ledger2.Resume(ctx, "interview", task.ID, updated)
	require.NoError(t, err)
	require.Equal(t, StateRunning, resumed.State)
	require.Equal(t, "offer-extended", resumed.Token.Payload)

	finished, err := ledger2.PersistOnExit(ctx, FlowNode{ID: "interview", Type: BpmnUserTask}, task.ID, updated)
	require.NoError(t, err)
	require.Equal(t, StateFinished, finished.State)

	// Lifecycle history spans both "processes".
	events, err := ledger2.History(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, EventInstanceEntered, events[0].Type)
	require.Equal(t, EventInstanceSuspended, events[1].Type)
	require.Equal(t, EventInstanceResumed, events[2].Type)
	require.Equal(t, EventInstanceExited, events[3].Type)
}

// TestRecorder_ChainAndFault drives a short chain through the Recorder
// convenience layer over the in-memory ledger.
func TestRecorder_ChainAndFault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	metrics := &BasicMetrics{}
	l := NewInMemoryLedgerWithObserver(metrics)
	rec := NewRecorder(l)

	token := ProcessToken{
		ProcessInstanceID: "pi-1",
		ProcessModelID:    "payment",
		CorrelationID:     "order-9",
	}

	start, err := rec.Enter(ctx, FlowNode{ID: "start", Type: BpmnStartEvent}, token)
	require.NoError(t, err)
	require.NotEmpty(t, start.ID, "recorder assigns instance ids")

	_, err = rec.Exit(ctx, start, token)
	require.NoError(t, err)

	charge, err := rec.EnterAfter(ctx, FlowNode{ID: "charge", Type: BpmnServiceTask}, token, start.ID)
	require.NoError(t, err)
	require.Equal(t, start.ID, charge.PreviousInstanceID)

	fault := FaultInfo{Kind: "PaymentDeclined", Message: "insufficient funds"}
	failed, err := rec.Fail(ctx, charge, token, fault)
	require.NoError(t, err)
	require.Equal(t, StateErrored, failed.State)
	require.NotNil(t, failed.Error)
	require.Equal(t, "PaymentDeclined", failed.Error.Kind)

	snap := metrics.Snapshot()
	require.EqualValues(t, 2, snap.Entered)
	require.EqualValues(t, 1, snap.Finished)
	require.EqualValues(t, 1, snap.Errored)
	require.EqualValues(t, 0, snap.Active)
}

// TestParallelBranches exercises token branching across a parallel gateway:
// each branch carries its own instance chain and the tokens stay isolated.
func TestParallelBranches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	l := NewInMemoryLedger()
	rec := NewRecorder(l)

	token := ProcessToken{
		ProcessInstanceID: "pi-1",
		ProcessModelID:    "fulfilment",
		CorrelationID:     "order-1",
		Payload:           "paid",
	}

	split, err := rec.Enter(ctx, FlowNode{ID: "split", Type: BpmnParallelGateway}, token)
	require.NoError(t, err)
	_, err = rec.Exit(ctx, split, token)
	require.NoError(t, err)

	shipToken := token.Branch()
	shipToken.Payload = "shipping"
	invoiceToken := token.Branch()
	invoiceToken.Payload = "invoicing"

	ship, err := rec.EnterAfter(ctx, FlowNode{ID: "ship", Type: BpmnServiceTask}, shipToken, split.ID)
	require.NoError(t, err)
	invoice, err := rec.EnterAfter(ctx, FlowNode{ID: "invoice", Type: BpmnServiceTask}, invoiceToken, split.ID)
	require.NoError(t, err)

	_, err = rec.Exit(ctx, ship, shipToken)
	require.NoError(t, err)
	_, err = rec.Exit(ctx, invoice, invoiceToken)
	require.NoError(t, err)

	all, err := l.QueryByProcessInstance(ctx, "pi-1", Page{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	shipped, err := l.GetInstance(ctx, ship.ID)
	require.NoError(t, err)
	require.Equal(t, "shipping", shipped.Token.Payload)

	invoiced, err := l.GetInstance(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, "invoicing", invoiced.Token.Payload)
}
