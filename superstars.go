// SuperStars
//
// Everyone shares one canvas. Clicking places a star in your color and earns
// points; the star is relayed to every other player. Rounds run on a fixed
// timer, and each round is followed by an intermission that shows the
// leaderboard. Scores reset when the next round begins.
//
// Features:
// - One hub goroutine owns all game state; connections talk to it over channels
// - Each connection is admitted as a participant with a fresh id and a bright color
// - Round timer broadcast every tick, independent of how many players are connected
// - Players joining mid-intermission get the leaderboard immediately
// - Players joining mid-round get the stars that have not faded yet
// - Slow clients are dropped instead of stalling the hub
// - In-browser QR button to share the game, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const (
	clientSendBuffer = 64

	// noParticipant is never issued, so broadcasting "except noParticipant"
	// reaches everyone.
	noParticipant ParticipantID = 0
)

var errHubStopped = errors.New("hub stopped")

type Client struct {
	conn   *websocket.Conn
	send   chan Message
	connID string
}

type joinRequest struct {
	client *Client
	reply  chan<- ParticipantID
}

type submitRequest struct {
	id    ParticipantID
	star  json.RawMessage
	delta int
}

// Stats is a point-in-time view of the hub, served on /stats.
type Stats struct {
	Participants  int     `json:"participants"`
	Phase         string  `json:"phase"`
	TimeRemaining float64 `json:"time_remaining"`
	ActiveMarks   int     `json:"active_marks"`
}

type Hub struct {
	registry *Registry
	round    *RoundClock
	marks    *MarkLog
	clients  map[ParticipantID]*Client

	// snapshot is the leaderboard of the round that just ended; only set
	// during an intermission.
	snapshot ScoreSnapshot

	clock clockwork.Clock
	tick  time.Duration

	register chan joinRequest
	unreg    chan ParticipantID
	submits  chan submitRequest
	stats    chan chan Stats
	done     chan struct{}
}

func newHub(cfg *Config, colors ColorSource, clock clockwork.Clock) *Hub {
	return &Hub{
		registry: newRegistry(colors),
		round:    newRoundClock(cfg.roundDuration, cfg.intermissionDuration, cfg.tickInterval),
		marks:    newMarkLog(cfg.markLifetime, cfg.maxMarks),
		clients:  make(map[ParticipantID]*Client),
		clock:    clock,
		tick:     cfg.tickInterval,
		register: make(chan joinRequest),
		unreg:    make(chan ParticipantID),
		submits:  make(chan submitRequest, 64),
		stats:    make(chan chan Stats),
		done:     make(chan struct{}),
	}
}

// run processes one event at a time until ctx is cancelled. Ticks come from
// a single ticker in this loop, so they never overlap each other or any
// connection event; a slow tick just delays the next one.
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	ticker := h.clock.NewTicker(h.tick)
	defer ticker.Stop()

	log.Info().Dur("tick", h.tick).Msg("GAMES: Round clock started")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("GAMES: Round clock stopped")
			return

		case jr := <-h.register:
			jr.reply <- h.handleJoin(jr.client)

		case id := <-h.unreg:
			h.handleLeave(id)

		case sr := <-h.submits:
			h.handleSubmit(sr)

		case reply := <-h.stats:
			reply <- h.currentStats()

		case now := <-ticker.Chan():
			h.handleTick(now)
		}
	}
}

// join admits c, returning false if the hub has already stopped.
func (h *Hub) join(c *Client) (ParticipantID, bool) {
	reply := make(chan ParticipantID, 1)

	select {
	case h.register <- joinRequest{client: c, reply: reply}:
	case <-h.done:
		return noParticipant, false
	}

	return <-reply, true
}

func (h *Hub) leave(id ParticipantID) {
	select {
	case h.unreg <- id:
	case <-h.done:
	}
}

func (h *Hub) submit(sr submitRequest) {
	select {
	case h.submits <- sr:
	case <-h.done:
	}
}

// Stats asks the run loop for its current state.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)

	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, errHubStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}

	return <-reply, nil
}

func (h *Hub) handleJoin(c *Client) ParticipantID {
	id := h.registry.Admit()
	p, _ := h.registry.Get(id)

	h.clients[id] = c

	h.sendTo(id, Message{Type: EventSetUserColor, Data: p.Color})

	if h.round.Phase() == PhaseIntermission {
		h.sendTo(id, Message{Type: EventIntermission, Data: h.snapshot})
	}

	// Replay what is still on screen, newest last, without filling the
	// client's buffer on the way in. The intermission screen shows no stars.
	var stars []json.RawMessage
	if h.round.Phase() == PhaseRunning {
		stars = h.marks.Active()
	}
	if limit := cap(c.send) / 2; len(stars) > limit {
		stars = stars[len(stars)-limit:]
	}
	for _, star := range stars {
		h.sendTo(id, Message{Type: EventNewStar, Data: star})
	}

	log.Debug().
		Str("conn_id", c.connID).
		Uint64("participant", uint64(id)).
		Str("color", p.Color.Display()).
		Int("replayed", len(stars)).
		Msg("GAMES: Participant joined")

	return id
}

func (h *Hub) handleLeave(id ParticipantID) {
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
	}

	h.registry.Remove(id)

	log.Debug().Uint64("participant", uint64(id)).Msg("GAMES: Participant left")
}

func (h *Hub) handleSubmit(sr submitRequest) {
	total, ok := h.registry.Credit(sr.id, sr.delta)
	if !ok {
		return
	}

	h.sendTo(sr.id, Message{Type: EventScoreUpdate, Data: total})
	h.broadcast(Message{Type: EventNewStar, Data: sr.star}, sr.id)

	h.marks.Add(sr.star, h.clock.Now())

	log.Debug().
		Uint64("participant", uint64(sr.id)).
		Int("delta", sr.delta).
		Int("total", total).
		Msg("GAMES: Star placed")
}

// handleTick advances the round clock and performs the broadcasts for any
// phase change. Every tick ends with exactly one timer update.
func (h *Hub) handleTick(now time.Time) {
	res := h.round.Tick()

	if res.Transitioned {
		switch res.Phase {
		case PhaseIntermission:
			h.snapshot = snapshotScores(h.registry)
			h.broadcast(Message{Type: EventIntermission, Data: h.snapshot}, noParticipant)

		case PhaseRunning:
			resetScores(h.registry)
			h.snapshot = nil
			h.broadcast(Message{Type: EventGameStart, Data: struct{}{}}, noParticipant)
			h.broadcast(Message{Type: EventScoreUpdate, Data: 0}, noParticipant)
		}

		log.Debug().
			Str("phase", res.Phase.String()).
			Dur("remaining", res.Remaining).
			Int("participants", h.registry.Len()).
			Msg("GAMES: Phase changed")
	}

	h.marks.Prune(now)

	h.broadcast(Message{Type: EventTimerUpdate, Data: res.Remaining.Seconds()}, noParticipant)
}

func (h *Hub) currentStats() Stats {
	return Stats{
		Participants:  h.registry.Len(),
		Phase:         h.round.Phase().String(),
		TimeRemaining: h.round.Remaining().Seconds(),
		ActiveMarks:   h.marks.Len(),
	}
}

// sendTo never blocks the hub: a client whose buffer is full is dropped.
func (h *Hub) sendTo(id ParticipantID, msg Message) {
	c, ok := h.clients[id]
	if !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		log.Warn().
			Str("conn_id", c.connID).
			Uint64("participant", uint64(id)).
			Msg("GAMES: Send buffer full, dropping participant")
		h.handleLeave(id)
	}
}

func (h *Hub) broadcast(msg Message, except ParticipantID) {
	for id := range h.clients {
		if id == except {
			continue
		}
		h.sendTo(id, msg)
	}
}

// closeAll disconnects every client on shutdown.
func (h *Hub) closeAll() {
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
		h.registry.Remove(id)
	}
}

func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(cfg.corsOrigins) == 0 || origin == "" {
				return true
			}
			return slices.Contains(cfg.corsOrigins, "*") || slices.Contains(cfg.corsOrigins, origin)
		},
	}
}

func serveWS(cfg *Config, hub *Hub) httprouter.Handle {
	upgrader := newUpgrader(cfg)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Str("remote", realIP(r)).Msg("GAMES: Websocket upgrade failed")
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan Message, clientSendBuffer),
			connID: uuid.NewString(),
		}

		id, ok := hub.join(client)
		if !ok {
			_ = conn.Close()
			return
		}

		log.Debug().
			Str("conn_id", client.connID).
			Str("remote", realIP(r)).
			Uint64("participant", uint64(id)).
			Msg("GAMES: Websocket connected")

		go client.writePump(cfg)
		client.readPump(cfg, hub, id)
	}
}

func (c *Client) readPump(cfg *Config, h *Hub, id ParticipantID) {
	defer func() {
		h.leave(id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("conn_id", c.connID).Msg("GAMES: Unexpected websocket close")
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))

		star, delta, err := decodeSubmission(frame)
		if err != nil {
			log.Warn().
				Err(err).
				Str("conn_id", c.connID).
				Uint64("participant", uint64(id)).
				Msg("GAMES: Dropped malformed message")
			continue
		}

		h.submit(submitRequest{id: id, star: star, delta: delta})
	}
}

func (c *Client) writePump(cfg *Config) {
	ticker := time.NewTicker(cfg.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				log.Error().Err(err).Str("conn_id", c.connID).Msg("GAMES: Websocket write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// qrHandler generates a PNG QR code pointing at the game page.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr") + "/"

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func serveStats(cfg *Config, hub *Hub, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		stats, err := hub.Stats(r.Context())
		if err != nil {
			http.Error(w, "game unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(stats); err != nil {
			errs <- err
		}
	}
}

// registerSuperStarsGame sets up routes so that:
//   - $prefix/ws     → WebSocket for the shared game
//   - $prefix/qr     → PNG QR code for the game URL
//   - $prefix/stats  → JSON view of the hub
func registerSuperStarsGame(cfg *Config, mux *httprouter.Router, hub *Hub, errs chan<- error) {
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, hub))
	mux.GET(cfg.prefix+"/qr", qrHandler(cfg))
	mux.GET(cfg.prefix+"/stats", serveStats(cfg, hub, errs))
}
