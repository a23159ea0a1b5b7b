package audit

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nanabot/internal/bus"
	"nanabot/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	v, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, v)
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.Record(ctx, Entry{Outcome: "delivered", MessageID: id, LatencyMs: 12}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].MessageID != "m3" || got[1].MessageID != "m2" {
		t.Errorf("expected newest first, got %s, %s", got[0].MessageID, got[1].MessageID)
	}
	if got[0].Kind != KindRelay {
		t.Errorf("default kind should be relay, got %q", got[0].Kind)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}

	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestSubscribe_SkipsNoise(t *testing.T) {
	s := testStore(t)
	eb := bus.NewEventBus(testLogger())
	var errs []error
	Subscribe(eb, s, func(err error) { errs = append(errs, err) })

	emit := func(reason, outcome string) {
		eb.Emit(bus.Event{Type: bus.EventRelayFinished, Payload: map[string]any{
			bus.KeyOutcome:   outcome,
			bus.KeyReason:    reason,
			bus.KeyMessageID: "m-" + reason,
			bus.KeyLatency:   1500 * time.Millisecond,
		}})
	}
	emit(relay.ReasonOtherChannel, relay.OutcomeRejected)
	emit(relay.ReasonSelf, relay.OutcomeRejected)
	emit(relay.ReasonImpersonated, relay.OutcomeRejected)
	emit(relay.ReasonExempt, relay.OutcomeRejected)
	emit("", relay.OutcomeDelivered)
	eb.Emit(bus.Event{Type: bus.EventIngressHandled, Payload: map[string]any{bus.KeyOutcome: "forwarded"}})

	if len(errs) != 0 {
		t.Fatalf("unexpected write errors: %v", errs)
	}
	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 journaled entries, got %d: %+v", len(got), got)
	}
	if got[0].Kind != KindIngress || got[0].Outcome != "forwarded" {
		t.Errorf("newest should be the ingress row, got %+v", got[0])
	}
	if got[1].Outcome != relay.OutcomeDelivered || got[1].LatencyMs != 1500 {
		t.Errorf("unexpected delivered row %+v", got[1])
	}
	if got[2].Reason != relay.ReasonExempt {
		t.Errorf("unexpected exempt row %+v", got[2])
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, Entry) error { return errors.New("disk full") }

func TestSubscribe_ReportsWriteErrors(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	var got error
	Subscribe(eb, failingRecorder{}, func(err error) { got = err })
	eb.Emit(bus.Event{Type: bus.EventIngressHandled, Payload: map[string]any{bus.KeyOutcome: "unauthorized"}})
	if got == nil || got.Error() != "disk full" {
		t.Errorf("expected write error to be reported, got %v", got)
	}
}
