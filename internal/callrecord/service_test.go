package callrecord

import (
	"context"
	"testing"
	"time"

	"github.com/studypair/callkit/internal/domain"
)

func newTestService() *Service {
	return NewService(NewMemoryRepository())
}

func TestInitiateCreatesRingingRecord(t *testing.T) {
	svc := newTestService()
	rec, err := svc.Initiate(context.Background(), "alice", "bob", domain.CallTypeVideo)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if rec.CallID == "" || rec.RoomID == "" {
		t.Fatalf("missing identifiers: %+v", rec)
	}
	if rec.Status != domain.StatusRingingOut {
		t.Fatalf("new record status = %s", rec.Status)
	}
	if rec.Duration != 0 || rec.ConnectedAt != nil || rec.EndedAt != nil {
		t.Fatalf("new record carries connection data: %+v", rec)
	}
}

func TestInitiateRejectsBadInput(t *testing.T) {
	svc := newTestService()
	cases := []struct {
		name              string
		caller, recipient domain.UserID
		callType          domain.CallType
		want              error
	}{
		{"self call", "alice", "alice", domain.CallTypeVideo, ErrSelfCall},
		{"missing recipient", "alice", "", domain.CallTypeVideo, ErrMissingParty},
		{"bad type", "alice", "bob", "HOLOGRAM", ErrUnknownType},
	}
	for _, tc := range cases {
		if _, err := svc.Initiate(context.Background(), tc.caller, tc.recipient, tc.callType); err != tc.want {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestFinalizeComputesDuration(t *testing.T) {
	svc := newTestService()
	rec, err := svc.Initiate(context.Background(), "alice", "bob", domain.CallTypeAudio)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	connected := time.Now().Add(-90 * time.Second)
	ended := connected.Add(75 * time.Second)
	out, err := svc.Finalize(context.Background(), rec.CallID, Finalization{
		Status:      domain.StatusEnded,
		ConnectedAt: &connected,
		EndedAt:     &ended,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.Status != domain.StatusEnded {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Duration != 75 {
		t.Fatalf("duration = %d, want 75", out.Duration)
	}
}

func TestFinalizeNeverConnectedHasZeroDuration(t *testing.T) {
	svc := newTestService()
	rec, _ := svc.Initiate(context.Background(), "alice", "bob", domain.CallTypeVideo)

	out, err := svc.Finalize(context.Background(), rec.CallID, Finalization{
		Status:   domain.StatusMissed,
		Duration: 42, // must be ignored without a connect timestamp
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.Duration != 0 {
		t.Fatalf("missed call duration = %d, want 0", out.Duration)
	}
	if out.EndedAt == nil {
		t.Fatal("finalize did not stamp ended_at")
	}
}

func TestFinalizeFirstTerminalStatusWins(t *testing.T) {
	svc := newTestService()
	rec, _ := svc.Initiate(context.Background(), "alice", "bob", domain.CallTypeVideo)

	if _, err := svc.Finalize(context.Background(), rec.CallID, Finalization{Status: domain.StatusRejected}); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	out, err := svc.Finalize(context.Background(), rec.CallID, Finalization{Status: domain.StatusEnded})
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if out.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want first terminal REJECTED", out.Status)
	}
}

func TestFinalizeRejectsNonTerminalStatus(t *testing.T) {
	svc := newTestService()
	rec, _ := svc.Initiate(context.Background(), "alice", "bob", domain.CallTypeVideo)

	if _, err := svc.Finalize(context.Background(), rec.CallID, Finalization{Status: domain.StatusConnected}); err != ErrInvalidStatus {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestHistoryNewestFirstScopedToUser(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	base := time.Now()
	seq := 0
	svc.now = func() time.Time { seq++; return base.Add(time.Duration(seq) * time.Minute) }

	first, _ := svc.Initiate(context.Background(), "alice", "bob", domain.CallTypeVideo)
	second, _ := svc.Initiate(context.Background(), "carol", "alice", domain.CallTypeAudio)
	if _, err := svc.Initiate(context.Background(), "carol", "dave", domain.CallTypeVideo); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	recs, err := svc.History(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("history length = %d, want 2", len(recs))
	}
	if recs[0].CallID != second.CallID || recs[1].CallID != first.CallID {
		t.Fatalf("history not newest first: %s then %s", recs[0].CallID, recs[1].CallID)
	}
}
