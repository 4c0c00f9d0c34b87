package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/intervene/internal/engine"
	"github.com/triage-ai/intervene/internal/engine/handlers"
	"go.uber.org/zap"
)

var toolCall = engine.Context{Direction: engine.DirectionToolInvocation, ToolName: "search"}

func newTestRegistry(ttl time.Duration) (*Registry, *time.Time) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(handlers.DefaultSettings(), ttl, zap.NewNop())
	r.now = func() time.Time { return now }
	return r, &now
}

func TestCreate_AssignsUUIDAndChain(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	s := r.Create("proj-1", nil)

	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("session ID should be a UUID, got %q", s.ID)
	}
	if !reflect.DeepEqual(s.HandlerNames(), engine.DefaultOrder) {
		t.Errorf("expected default chain, got %v", s.HandlerNames())
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 session, got %d", r.Len())
	}
}

func TestCreate_AppliesProjectPolicy(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	off := false
	policy := &engine.ChainPolicy{Handlers: map[string]engine.HandlerPolicy{
		engine.HandlerConvergence: {Enabled: &off},
	}}
	s := r.Create("proj-1", policy)
	for _, name := range s.HandlerNames() {
		if name == engine.HandlerConvergence {
			t.Fatal("convergence should be disabled by policy")
		}
	}
}

func TestGet_ScopedToProject(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	s := r.Create("proj-1", nil)

	if _, err := r.Get("proj-1", s.ID); err != nil {
		t.Errorf("owner lookup failed: %v", err)
	}
	if _, err := r.Get("proj-2", s.ID); !errors.Is(err, ErrWrongProject) {
		t.Errorf("expected ErrWrongProject, got %v", err)
	}
	if _, err := r.Get("proj-1", "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	s := r.Create("proj-1", nil)

	if err := r.Delete("proj-2", s.ID); !errors.Is(err, ErrWrongProject) {
		t.Errorf("expected ErrWrongProject, got %v", err)
	}
	if err := r.Delete("proj-1", s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete("proj-1", s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on second delete, got %v", err)
	}
	if _, err := r.Process("proj-1", s.ID, "{}", toolCall); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("processing a deleted session should fail, got %v", err)
	}
}

func TestProcess_StateIsPerSession(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	a := r.Create("proj-1", nil)
	b := r.Create("proj-1", nil)

	res, err := r.Process("proj-1", a.ID, "{}", toolCall)
	if err != nil || !res.Verdict.IsAllow() {
		t.Fatalf("first call: %v, %v", res.Verdict, err)
	}
	res, _ = r.Process("proj-1", a.ID, "{}", toolCall)
	if !res.Verdict.IsDrop() || res.DecidedBy != engine.HandlerSingleAction {
		t.Fatalf("second call in session a should be dropped by single_action, got %+v", res)
	}

	res, _ = r.Process("proj-1", b.ID, "{}", toolCall)
	if !res.Verdict.IsAllow() {
		t.Errorf("session b must not share a's counter, got %v", res.Verdict)
	}
}

func TestResetTurnAndRound(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	s := r.Create("proj-1", nil)

	r.Process("proj-1", s.ID, "{}", toolCall)
	if err := r.ResetTurn("proj-1", s.ID); err != nil {
		t.Fatalf("ResetTurn: %v", err)
	}
	if res, _ := r.Process("proj-1", s.ID, "{}", toolCall); !res.Verdict.IsAllow() {
		t.Errorf("expected allow after ResetTurn, got %v", res.Verdict)
	}

	result := engine.Context{Direction: engine.DirectionToolResult, AgentID: "a", ToolName: engine.DelegateTool}
	answer := "the deploy failed because the migration timed out on the orders table"
	r.Process("proj-1", s.ID, answer, result)
	if err := r.ResetRound("proj-1", s.ID); err != nil {
		t.Fatalf("ResetRound: %v", err)
	}
	if res, _ := r.Process("proj-1", s.ID, answer, result); !res.Verdict.IsAllow() {
		t.Errorf("expected allow after ResetRound, got %v", res.Verdict)
	}

	if err := r.ResetTurn("proj-1", "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := r.ResetRound("proj-2", s.ID); !errors.Is(err, ErrWrongProject) {
		t.Errorf("expected ErrWrongProject, got %v", err)
	}
}

func TestSweep_EvictsIdleSessions(t *testing.T) {
	r, now := newTestRegistry(time.Hour)
	idle := r.Create("proj-1", nil)
	*now = now.Add(30 * time.Minute)
	active := r.Create("proj-1", nil)
	*now = now.Add(45 * time.Minute)
	r.Process("proj-1", active.ID, "hello", engine.Context{Direction: engine.DirectionInbound})

	if n := r.Sweep(*now); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := r.Get("proj-1", idle.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("idle session should be gone, got %v", err)
	}
	if _, err := r.Get("proj-1", active.ID); err != nil {
		t.Errorf("active session should survive, got %v", err)
	}
}

func TestSweep_ZeroTTLDisablesEviction(t *testing.T) {
	r, now := newTestRegistry(0)
	r.Create("proj-1", nil)
	if n := r.Sweep(now.Add(1000 * time.Hour)); n != 0 {
		t.Errorf("expected no eviction, got %d", n)
	}
}

func TestSetSettings_AffectsNewSessionsOnly(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	before := r.Create("proj-1", nil)

	s := handlers.DefaultSettings()
	s.MaxActionsPerTurn = 2
	r.SetSettings(s)
	after := r.Create("proj-1", nil)

	r.Process("proj-1", before.ID, "{}", toolCall)
	if res, _ := r.Process("proj-1", before.ID, "{}", toolCall); !res.Verdict.IsDrop() {
		t.Errorf("existing session should keep limit 1, got %v", res.Verdict)
	}
	r.Process("proj-1", after.ID, "{}", toolCall)
	if res, _ := r.Process("proj-1", after.ID, "{}", toolCall); !res.Verdict.IsAllow() {
		t.Errorf("new session should use limit 2, got %v", res.Verdict)
	}
	if r.Settings().MaxActionsPerTurn != 2 {
		t.Error("Settings should return the swapped defaults")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := NewRegistry(handlers.DefaultSettings(), time.Nanosecond, nil)
	r.Create("proj-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if r.Len() != 0 {
		t.Errorf("expected periodic sweep to evict the session, %d left", r.Len())
	}
}

func TestProcess_ConcurrentSessions(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	const sessions = 20

	ids := make([]string, sessions)
	for i := range ids {
		ids[i] = r.Create("proj-1", nil).ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed = make([]int, sessions)
	)
	for i, id := range ids {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				res, err := r.Process("proj-1", id, "{}", toolCall)
				if err != nil {
					t.Error(err)
					return
				}
				if res.Verdict.IsAllow() {
					mu.Lock()
					allowed[i]++
					mu.Unlock()
				}
			}(i, id)
		}
	}
	wg.Wait()

	for i, n := range allowed {
		if n != 1 {
			t.Errorf("session %d: expected exactly 1 allowed call, got %d", i, n)
		}
	}
}
