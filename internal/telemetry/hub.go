// Package telemetry fans run events out to logs and HTTP subscribers.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Kind classifies a run event.
type Kind string

const (
	KindRun       Kind = "run"       // run started or finished
	KindState     Kind = "state"     // sync program state transition
	KindProvision Kind = "provision" // module provisioning step
	KindFault     Kind = "fault"     // attributable fault
	KindCapture   Kind = "capture"   // digitizer capture read
)

// Event is one observable step of an instrument run.
type Event struct {
	Time    time.Time `json:"time"`
	Run     string    `json:"run"`
	Kind    Kind      `json:"kind"`
	Engine  string    `json:"engine,omitempty"`
	Channel int       `json:"channel,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Message string    `json:"message,omitempty"`
	// Value carries a numeric result, e.g. the peak of a capture in volts.
	Value float64 `json:"value,omitempty"`
}

// Reporter receives run events.
type Reporter interface {
	Report(e Event)
}

// MultiReporter fans out events to multiple destinations.
type MultiReporter []Reporter

// Report forwards the event to each configured reporter.
func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}

// DefaultHistoryLimit bounds the events kept by NewHub(0).
const DefaultHistoryLimit = 1000

// Hub keeps recent events and pushes new ones to live subscribers.
type Hub struct {
	mu           sync.RWMutex
	history      []Event
	historyLimit int
	subscribers  map[chan Event]struct{}
}

// NewHub builds a hub keeping at most historyLimit events.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Event]struct{}),
	}
}

// Report implements Reporter. Slow subscribers drop events.
func (h *Hub) Report(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	h.history = append(h.history, e)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns stored events, optionally only those of one run.
func (h *Hub) History(run string) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, 0, len(h.history))
	for _, e := range h.history {
		if run == "" || e.Run == run {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe registers a listener for live events.
func (h *Hub) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// RunStatus summarizes the latest known state of one run.
type RunStatus struct {
	Run    string    `json:"run"`
	State  string    `json:"state"`
	Faults int       `json:"faults"`
	Last   time.Time `json:"last"`
}

// Status folds the history into one entry per run, in first-seen order.
func (h *Hub) Status() []RunStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	idx := make(map[string]int)
	var out []RunStatus
	for _, e := range h.history {
		i, ok := idx[e.Run]
		if !ok {
			i = len(out)
			idx[e.Run] = i
			out = append(out, RunStatus{Run: e.Run})
		}
		s := &out[i]
		s.Last = e.Time
		switch e.Kind {
		case KindState:
			s.State = e.To
		case KindFault:
			s.Faults++
		}
	}
	return out
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.History(r.URL.Query().Get("run")))
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Status())
}

func writeSSE(w http.ResponseWriter, e Event) {
	payload, _ := json.Marshal(e)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	run := r.URL.Query().Get("run")
	for _, e := range h.History(run) {
		writeSSE(w, e)
	}
	flusher.Flush()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if run != "" && e.Run != run {
				continue
			}
			writeSSE(w, e)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
