package agent

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/tralfaz/internal/appointments"
	"github.com/nugget/tralfaz/internal/llm"
	"github.com/nugget/tralfaz/internal/memory"
	"github.com/nugget/tralfaz/internal/prompts"
	"github.com/nugget/tralfaz/internal/tools"
)

// blankCalendar never manages to create an event.
type blankCalendar struct{}

func (blankCalendar) CreateEvent(context.Context, string, time.Time, time.Duration) string {
	return ""
}
func (blankCalendar) DeleteEvent(context.Context, string) bool { return false }

type harness struct {
	assistant *Assistant
	appts     *appointments.Store
	mem       *memory.Store
	llm       *scriptedLLM
}

func newHarness(t *testing.T, responses ...*llm.ChatResponse) *harness {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	appts, err := appointments.NewStore(db)
	if err != nil {
		t.Fatalf("appointments: %v", err)
	}
	mem, err := memory.NewStore(db, 40)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}

	loc := time.FixedZone("EST", -5*3600)
	reg := tools.NewRegistry()
	tools.NewAppointmentTools(appts, blankCalendar{}, loc, nil).Register(reg)

	fake := &scriptedLLM{responses: responses}
	a := NewAssistant(NewLoop(fake, reg, "m", nil), mem, loc, nil)
	a.now = func() time.Time { return time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC) }

	return &harness{assistant: a, appts: appts, mem: mem, llm: fake}
}

func TestRespond_LunchWithLiz(t *testing.T) {
	h := newHarness(t,
		toolReply("toolu_1", tools.SaveAppointment, map[string]any{
			"title":    "Lunch with Liz",
			"datetime": "2026-03-05T12:00:00",
		}),
		textReply("Very good, Sir. Lunch with Liz tomorrow at noon is duly noted."),
	)
	ctx := context.Background()

	reply, err := h.assistant.Respond(ctx, "42", "I'm having lunch with Liz tomorrow")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(reply, "Lunch with Liz") {
		t.Errorf("reply = %q", reply)
	}

	appt, err := h.appts.Get(ctx, "42", 1)
	if err != nil {
		t.Fatalf("appointment not saved: %v", err)
	}
	wantWhen := time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC)
	if appt.Title != "Lunch with Liz" || !appt.When.Equal(wantWhen) {
		t.Errorf("appointment = %+v, want Lunch with Liz at %v", appt, wantWhen)
	}
	if appt.ExternalRef != "" {
		t.Errorf("ExternalRef = %q, want empty when calendar fails", appt.ExternalRef)
	}
	if appt.LeadTime != 30*time.Minute {
		t.Errorf("LeadTime = %v", appt.LeadTime)
	}

	turns, err := h.mem.History(ctx, "42")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("stored %d turns, want 2 (tool exchanges are not persisted)", len(turns))
	}
	if turns[0].Role != memory.RoleUser || turns[1].Role != memory.RoleAssistant || turns[1].Content != reply {
		t.Errorf("turns = %+v", turns)
	}

	first := h.llm.calls[0]
	if first[0].Role != llm.RoleSystem || !strings.Contains(first[0].Content, "Wednesday, March 04, 2026 at 10:00 AM") {
		t.Errorf("system prompt not anchored to now: %q", first[0].Content)
	}
	second := h.llm.calls[1]
	result := second[len(second)-1]
	if result.ToolCallID != "toolu_1" || result.Content != `{"appointment_id":1,"success":true}` {
		t.Errorf("tool result = %+v", result)
	}
	if len(h.llm.tools[0]) != 3 {
		t.Errorf("declared %d tools, want 3", len(h.llm.tools[0]))
	}
}

func TestRespond_IterationLimitStoresFallback(t *testing.T) {
	var responses []*llm.ChatResponse
	for i := 0; i < DefaultMaxIterations; i++ {
		responses = append(responses, toolReply("x", tools.ListAppointments, nil))
	}
	h := newHarness(t, responses...)

	reply, err := h.assistant.Respond(context.Background(), "42", "What's on?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	turns, _ := h.mem.History(context.Background(), "42")
	if len(turns) != 2 || turns[1].Content != reply {
		t.Errorf("fallback not stored: %+v", turns)
	}
}

func TestRespond_EmptyReplyNotReplayed(t *testing.T) {
	h := newHarness(t, textReply(""), textReply("  \n"), textReply("Quite so, Sir."))
	ctx := context.Background()

	for _, msg := range []string{"Hello", "Are you there?"} {
		reply, err := h.assistant.Respond(ctx, "42", msg)
		if err != nil {
			t.Fatalf("Respond(%q): %v", msg, err)
		}
		if reply != prompts.GenericApology {
			t.Errorf("Respond(%q) = %q, want the apology", msg, reply)
		}
	}

	reply, err := h.assistant.Respond(ctx, "42", "Again")
	if err != nil {
		t.Fatalf("third Respond: %v", err)
	}
	if reply != "Quite so, Sir." {
		t.Errorf("third reply = %q", reply)
	}

	last := h.llm.calls[len(h.llm.calls)-1]
	for i, m := range last {
		if m.Role == llm.RoleAssistant && strings.TrimSpace(m.Content) == "" {
			t.Errorf("history message %d replayed a blank assistant turn", i)
		}
	}

	turns, _ := h.mem.History(ctx, "42")
	if len(turns) != 6 {
		t.Fatalf("stored %d turns, want 6", len(turns))
	}
	if turns[1].Content != prompts.GenericApology {
		t.Errorf("stored assistant turn = %q, want the apology", turns[1].Content)
	}
}

func TestRespond_LLMFailure(t *testing.T) {
	h := newHarness(t)

	if _, err := h.assistant.Respond(context.Background(), "42", "Hello"); err == nil {
		t.Fatal("expected error when the model is unavailable")
	}
	turns, _ := h.mem.History(context.Background(), "42")
	if len(turns) != 1 || turns[0].Role != memory.RoleUser {
		t.Errorf("turns = %+v, want only the user turn", turns)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t, textReply("Hello, Sir."))
	ctx := context.Background()

	if _, err := h.assistant.Respond(ctx, "42", "Hi"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	n, err := h.assistant.Reset(ctx, "42")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n != 2 {
		t.Errorf("Reset removed %d turns, want 2", n)
	}
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var k keyedMutex
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("42")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if len(k.locks) != 0 {
		t.Errorf("%d locks leaked", len(k.locks))
	}
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	var k keyedMutex
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
