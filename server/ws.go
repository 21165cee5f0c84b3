package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/grader/pkg/pipeline"
)

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// activeRun fans one run's events out to websocket subscribers. Events are
// kept so a client that connects late still sees the whole run.
type activeRun struct {
	mu      sync.Mutex
	orch    *pipeline.Orchestrator
	started bool
	closed  bool
	events  []pipeline.Event
	subs    map[chan pipeline.Event]struct{}
}

func newActiveRun() *activeRun {
	return &activeRun{subs: make(map[chan pipeline.Event]struct{})}
}

func (a *activeRun) setOrchestrator(o *pipeline.Orchestrator) {
	a.mu.Lock()
	a.orch = o
	a.mu.Unlock()
}

func (a *activeRun) orchestrator() *pipeline.Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orch
}

func (a *activeRun) publish(e pipeline.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.events = append(a.events, e)
	for ch := range a.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; it still has the replay on reconnect.
		}
	}
}

// subscribe returns the events so far and a channel for the rest. The
// channel is closed when the run finishes.
func (a *activeRun) subscribe() ([]pipeline.Event, chan pipeline.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan pipeline.Event, 64)
	replay := append([]pipeline.Event(nil), a.events...)
	if a.closed {
		close(ch)
		return replay, ch
	}
	a.subs[ch] = struct{}{}
	return replay, ch
}

func (a *activeRun) unsubscribe(ch chan pipeline.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.subs[ch]; ok {
		delete(a.subs, ch)
		close(ch)
	}
}

func (a *activeRun) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for ch := range a.subs {
		close(ch)
	}
	a.subs = map[chan pipeline.Event]struct{}{}
}

func (a *activeRun) idle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.started && len(a.subs) == 0
}

// attach claims runID for a POST /grade request. A websocket client may
// already be waiting on the same id.
func (s *Server) attach(runID string) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = newActiveRun()
		s.runs[runID] = run
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.started {
		return nil, fmt.Errorf("run %s is already in progress", runID)
	}
	run.started = true
	return run, nil
}

// watch returns the entry for runID, creating a pending one so clients can
// subscribe before the run starts.
func (s *Server) watch(runID string) *activeRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = newActiveRun()
		s.runs[runID] = run
	}
	return run
}

func (s *Server) finish(runID string, run *activeRun) {
	run.close()
	s.mu.Lock()
	if s.runs[runID] == run {
		delete(s.runs, runID)
	}
	s.mu.Unlock()
}

func (s *Server) forget(runID string, run *activeRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[runID] == run && run.idle() {
		delete(s.runs, runID)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("server", "WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	run := s.watch(runID)
	replay, events := run.subscribe()
	defer s.forget(runID, run)
	defer run.unsubscribe(events)

	// gorilla connections allow one concurrent writer; everything goes
	// through out.
	out := make(chan interface{}, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, e := range replay {
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
		for {
			select {
			case e, ok := <-events:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
						time.Now().Add(time.Second))
					return
				}
				if err := conn.WriteJSON(e); err != nil {
					return
				}
			case m := <-out:
				if err := conn.WriteJSON(m); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("server", "WebSocket read failed", map[string]interface{}{"error": err.Error()})
			}
			break
		}
		reply := s.control(run, msg)
		select {
		case out <- reply:
		case <-done:
			return
		}
	}
}

func (s *Server) control(run *activeRun, msg Message) Message {
	orch := run.orchestrator()
	switch msg.Type {
	case "pause", "resume":
		if orch == nil {
			return Message{Type: "error", Content: "run has not started"}
		}
		if msg.Type == "pause" {
			orch.Pause()
		} else {
			orch.Resume()
		}
		return Message{Type: "ack", Content: msg.Type, Data: orch.Snapshot()}
	case "state":
		if orch == nil {
			return Message{Type: "error", Content: "run has not started"}
		}
		return Message{Type: "state", Data: orch.Snapshot()}
	default:
		return Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}
