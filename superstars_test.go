package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
)

func testConfig() *Config {
	cfg := validConfig()
	cfg.roundDuration = 2 * time.Second
	cfg.intermissionDuration = time.Second
	cfg.tickInterval = 100 * time.Millisecond
	cfg.markLifetime = 4 * time.Second
	cfg.maxMarks = 16

	return &cfg
}

var testColors = []Color{{255, 0, 0}, {0, 255, 0}, {0, 0, 255}, {255, 255, 0}}

func newTestHub(clock clockwork.Clock) *Hub {
	return newHub(testConfig(), &fixedColors{colors: testColors}, clock)
}

func newTestClient() *Client {
	return &Client{send: make(chan Message, 64), connID: "test"}
}

// drain returns everything queued for c without blocking.
func drain(c *Client) []Message {
	var msgs []Message
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func types(msgs []Message) []EventType {
	out := make([]EventType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}

	return out
}

// waitFor reads from c until a message of type et arrives.
func waitFor(t *testing.T, c *Client, et EventType) Message {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				t.Fatalf("send channel closed while waiting for %s", et)
			}
			if msg.Type == et {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", et)
		}
	}
}

// tickUntil ticks h until it enters phase.
func tickUntil(t *testing.T, h *Hub, clock *clockwork.FakeClock, phase Phase) {
	t.Helper()

	for i := 0; i < 1000; i++ {
		clock.Advance(h.tick)
		h.handleTick(clock.Now())
		if h.round.Phase() == phase {
			return
		}
	}
	t.Fatalf("never reached %s", phase)
}

func TestHubJoinSendsColor(t *testing.T) {
	h := newTestHub(clockwork.NewFakeClock())
	c := newTestClient()

	id := h.handleJoin(c)
	if id != 1 {
		t.Fatalf("first participant id = %d, want 1", id)
	}

	msgs := drain(c)
	if diff := cmp.Diff([]Message{{Type: EventSetUserColor, Data: testColors[0]}}, msgs); diff != "" {
		t.Fatalf("join messages mismatch (-want +got):\n%s", diff)
	}
}

func TestHubJoinDuringIntermissionGetsSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	a := newTestClient()
	aid := h.handleJoin(a)

	tickUntil(t, h, clock, PhaseIntermission)
	tickUntil(t, h, clock, PhaseRunning)
	h.handleSubmit(submitRequest{id: aid, star: star(1), delta: 3})
	tickUntil(t, h, clock, PhaseIntermission)

	var broadcast ScoreSnapshot
	for _, msg := range drain(a) {
		if msg.Type == EventIntermission {
			broadcast = msg.Data.(ScoreSnapshot)
		}
	}

	want := ScoreSnapshot{{Color: testColors[0].Display(), Score: 3}}
	if diff := cmp.Diff(want, broadcast); diff != "" {
		t.Fatalf("broadcast snapshot mismatch (-want +got):\n%s", diff)
	}

	p := newTestClient()
	h.handleJoin(p)

	msgs := drain(p)
	if diff := cmp.Diff([]EventType{EventSetUserColor, EventIntermission}, types(msgs)); diff != "" {
		t.Fatalf("late joiner messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(broadcast, msgs[1].Data); diff != "" {
		t.Fatalf("late joiner snapshot differs from broadcast (-want +got):\n%s", diff)
	}
}

func TestHubJoinDuringRoundGetsNoSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	tickUntil(t, h, clock, PhaseIntermission)
	tickUntil(t, h, clock, PhaseRunning)

	c := newTestClient()
	h.handleJoin(c)

	if diff := cmp.Diff([]EventType{EventSetUserColor}, types(drain(c))); diff != "" {
		t.Fatalf("join messages mismatch (-want +got):\n%s", diff)
	}
}

func TestHubSubmitCreditsSenderAndRelaysToOthers(t *testing.T) {
	h := newTestHub(clockwork.NewFakeClock())

	a, b := newTestClient(), newTestClient()
	aid := h.handleJoin(a)
	h.handleJoin(b)
	drain(a)
	drain(b)

	h.handleSubmit(submitRequest{id: aid, star: star(7), delta: 1})

	if diff := cmp.Diff([]Message{{Type: EventScoreUpdate, Data: 1}}, drain(a)); diff != "" {
		t.Fatalf("sender messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Message{{Type: EventNewStar, Data: star(7)}}, drain(b)); diff != "" {
		t.Fatalf("other participant messages mismatch (-want +got):\n%s", diff)
	}

	if p, _ := h.registry.Get(aid); p.Score != 1 {
		t.Fatalf("score = %d, want 1", p.Score)
	}
}

func TestHubSubmitAfterLeaveIsIgnored(t *testing.T) {
	h := newTestHub(clockwork.NewFakeClock())

	a, b := newTestClient(), newTestClient()
	aid := h.handleJoin(a)
	h.handleJoin(b)
	drain(b)

	h.handleLeave(aid)

	drain(a)
	if _, ok := <-a.send; ok {
		t.Fatalf("send channel still open after leave")
	}
	if _, ok := h.registry.Get(aid); ok {
		t.Fatalf("participant %d still registered after leave", aid)
	}

	h.handleSubmit(submitRequest{id: aid, star: star(2), delta: 1})

	if msgs := drain(b); len(msgs) != 0 {
		t.Fatalf("remaining participant received %v after submit from departed one", types(msgs))
	}
	if h.marks.Len() != 0 {
		t.Fatalf("mark from departed participant was recorded")
	}

	// Leaving twice is harmless.
	h.handleLeave(aid)
}

func TestHubEveryTickSendsOneTimerUpdate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	c := newTestClient()
	h.handleJoin(c)
	drain(c)

	for i := 0; i < 40; i++ {
		clock.Advance(h.tick)
		h.handleTick(clock.Now())

		msgs := drain(c)
		timers := 0
		for _, m := range msgs {
			if m.Type == EventTimerUpdate {
				timers++
			}
		}
		if timers != 1 {
			t.Fatalf("tick %d sent %d timer updates, want 1", i+1, timers)
		}
		if last := msgs[len(msgs)-1]; last.Type != EventTimerUpdate || last.Data != h.round.Remaining().Seconds() {
			t.Fatalf("tick %d ended with %+v, want timer update of %v", i+1, last, h.round.Remaining().Seconds())
		}
	}
}

func TestHubTicksWithNobodyConnected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	tickUntil(t, h, clock, PhaseIntermission)

	if len(h.snapshot) != 0 {
		t.Fatalf("snapshot with no participants = %v, want empty", h.snapshot)
	}

	tickUntil(t, h, clock, PhaseRunning)
}

func TestHubRoundStartResetsScores(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	c := newTestClient()
	id := h.handleJoin(c)

	tickUntil(t, h, clock, PhaseIntermission)
	tickUntil(t, h, clock, PhaseRunning)
	h.handleSubmit(submitRequest{id: id, star: star(1), delta: 5})
	tickUntil(t, h, clock, PhaseIntermission)
	drain(c)

	tickUntil(t, h, clock, PhaseRunning)

	if p, _ := h.registry.Get(id); p.Score != 0 {
		t.Fatalf("score = %d after round start, want 0", p.Score)
	}
	if h.snapshot != nil {
		t.Fatalf("snapshot kept into the new round: %v", h.snapshot)
	}

	msgs := drain(c)
	if len(msgs) < 3 {
		t.Fatalf("round start sent %v", types(msgs))
	}

	got := msgs[len(msgs)-3:]
	want := []Message{
		{Type: EventGameStart, Data: struct{}{}},
		{Type: EventScoreUpdate, Data: 0},
		{Type: EventTimerUpdate, Data: 2.0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round start messages mismatch (-want +got):\n%s", diff)
	}
}

func TestHubReplaysActiveMarksToNewParticipants(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	a := newTestClient()
	aid := h.handleJoin(a)

	h.handleSubmit(submitRequest{id: aid, star: star(1), delta: 1})
	clock.Advance(time.Second)
	h.handleSubmit(submitRequest{id: aid, star: star(2), delta: 1})

	b := newTestClient()
	h.handleJoin(b)

	want := []Message{
		{Type: EventSetUserColor, Data: testColors[1]},
		{Type: EventNewStar, Data: star(1)},
		{Type: EventNewStar, Data: star(2)},
	}
	if diff := cmp.Diff(want, drain(b)); diff != "" {
		t.Fatalf("replay mismatch (-want +got):\n%s", diff)
	}

	// Both marks fade; a later joiner sees nothing.
	clock.Advance(5 * time.Second)
	h.handleTick(clock.Now())

	c := newTestClient()
	h.handleJoin(c)

	for _, msg := range drain(c) {
		if msg.Type == EventNewStar {
			t.Fatalf("expired mark replayed: %s", msg.Data)
		}
	}
}

func TestHubNoReplayDuringIntermission(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	tickUntil(t, h, clock, PhaseIntermission)
	tickUntil(t, h, clock, PhaseRunning)

	a := newTestClient()
	aid := h.handleJoin(a)
	h.handleSubmit(submitRequest{id: aid, star: star(4), delta: 1})

	tickUntil(t, h, clock, PhaseIntermission)

	if h.marks.Len() == 0 {
		t.Fatalf("mark expired before the intermission; lifetime too short for this check")
	}

	b := newTestClient()
	h.handleJoin(b)

	for _, msg := range drain(b) {
		if msg.Type == EventNewStar {
			t.Fatalf("star replayed during intermission: %s", msg.Data)
		}
	}

	// Stars still alive when the next round opens are replayed again.
	tickUntil(t, h, clock, PhaseRunning)
	h.handleSubmit(submitRequest{id: aid, star: star(5), delta: 1})

	c := newTestClient()
	h.handleJoin(c)

	if got := types(drain(c)); len(got) < 2 || got[len(got)-1] != EventNewStar {
		t.Fatalf("join during round got %v, want a trailing newStar", got)
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	slow := &Client{send: make(chan Message, 2), connID: "slow"}
	id := h.handleJoin(slow)

	fast := newTestClient()
	h.handleJoin(fast)

	for i := 0; i < 4; i++ {
		clock.Advance(h.tick)
		h.handleTick(clock.Now())
	}

	if _, ok := h.clients[id]; ok {
		t.Fatalf("slow client still attached")
	}
	if _, ok := h.registry.Get(id); ok {
		t.Fatalf("slow client still registered")
	}

	// The buffered messages are still readable, then the channel is closed.
	for range slow.send {
	}

	if h.registry.Len() != 1 {
		t.Fatalf("registry has %d participants, want 1", h.registry.Len())
	}
}

func TestHubRunLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.run(ctx)

	a, b := newTestClient(), newTestClient()

	aid, ok := h.join(a)
	if !ok {
		t.Fatalf("join failed on a running hub")
	}
	if _, ok := h.join(b); !ok {
		t.Fatalf("join failed on a running hub")
	}

	waitFor(t, a, EventSetUserColor)
	waitFor(t, b, EventSetUserColor)

	// The ticker exists before the loop accepts joins.
	clock.Advance(h.tick)

	if msg := waitFor(t, a, EventIntermission); len(msg.Data.(ScoreSnapshot)) != 2 {
		t.Fatalf("intermission snapshot = %v, want two entries", msg.Data)
	}
	if msg := waitFor(t, a, EventTimerUpdate); msg.Data != 1.0 {
		t.Fatalf("timer update = %v, want 1", msg.Data)
	}

	h.submit(submitRequest{id: aid, star: json.RawMessage(`{"x":1}`), delta: 1})

	if msg := waitFor(t, a, EventScoreUpdate); msg.Data != 1 {
		t.Fatalf("score update = %v, want 1", msg.Data)
	}
	waitFor(t, b, EventNewStar)

	stats, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{Participants: 2, Phase: "intermission", TimeRemaining: 1, ActiveMarks: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}

	cancel()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("hub did not stop")
	}

	drain(b)
	if _, ok := <-b.send; ok {
		t.Fatalf("client send channel still open after shutdown")
	}

	if _, ok := h.join(newTestClient()); ok {
		t.Fatalf("join succeeded after shutdown")
	}
	if _, err := h.Stats(context.Background()); err != errHubStopped {
		t.Fatalf("stats after shutdown = %v, want %v", err, errHubStopped)
	}

	// Neither blocks once the hub is gone.
	h.leave(aid)
	h.submit(submitRequest{id: aid, star: star(1), delta: 1})
}
