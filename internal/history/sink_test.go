package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-voice/internal/calls"
	"crm-voice/pkg/logger"
)

type failingRepo struct{ calls int }

func (f *failingRepo) Append(context.Context, Record) error {
	f.calls++
	return errors.New("db down")
}

func endedSession(id, tenant string, connectedFor time.Duration) calls.Session {
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(5*time.Second + connectedFor)
	s := calls.Session{
		ID: id, TenantID: tenant, CallerID: "cust", CallerName: "Cust",
		Status: calls.StatusEnded, StartedAt: start, EndedAt: &end, EndReason: "hangup",
	}
	if connectedFor > 0 {
		c := start.Add(5 * time.Second)
		s.ConnectedAt = &c
		s.ReceiverID = "agent"
	}
	return s
}

func TestSink_WritesEndedSessionsOnly(t *testing.T) {
	mem := NewMemoryRepo(10)
	bad := &failingRepo{}
	sink := NewSink(logger.Discard(), 10, mem, bad)

	sink.ObserveSession(calls.EventStarted, endedSession("s0", "t1", 0))
	sink.ObserveSession(calls.EventEnded, endedSession("s1", "t1", 42*time.Second))
	sink.ObserveSession(calls.EventEnded, calls.Session{ID: "broken"})
	sink.Close()

	recs, _ := mem.List(context.Background(), "t1", time.Time{}, time.Now().Add(time.Hour))
	if len(recs) != 1 || recs[0].SessionID != "s1" || recs[0].DurationSeconds != 42 {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if bad.calls != 1 {
		t.Fatalf("a failing repository must not stop the others, calls=%d", bad.calls)
	}
}

func TestMemoryRepo_RingKeepsNewest(t *testing.T) {
	repo := NewMemoryRepo(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = repo.Append(ctx, FromSession(endedSession(id, "t1", 0)))
	}
	recs, _ := repo.List(ctx, "t1", time.Time{}, time.Now().Add(time.Hour))
	if len(recs) != 2 || recs[0].SessionID != "b" || recs[1].SessionID != "c" {
		t.Fatalf("unexpected ring contents: %+v", recs)
	}
}

func TestMemoryRepo_TenantIsolation(t *testing.T) {
	repo := NewMemoryRepo(10)
	ctx := context.Background()
	_ = repo.Append(ctx, FromSession(endedSession("a", "t1", 0)))
	_ = repo.Append(ctx, FromSession(endedSession("b", "t2", 0)))

	recs, _ := repo.List(ctx, "t2", time.Time{}, time.Now().Add(time.Hour))
	if len(recs) != 1 || recs[0].TenantID != "t2" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestFromSession_CopiesTimestamps(t *testing.T) {
	s := endedSession("s1", "t1", 10*time.Second)
	r := FromSession(s)
	if !r.Connected() || r.ReceiverID != "agent" || r.EndedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", r)
	}
	*s.ConnectedAt = s.ConnectedAt.Add(time.Hour)
	if r.ConnectedAt.Equal(*s.ConnectedAt) {
		t.Fatalf("record shares memory with the session")
	}
}
