// Package relaytest runs an in-process room relay speaking the same HTTP
// protocol as the production relay.
package relaytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/lidofinance/tssd/protocol"
)

type room struct {
	mu       sync.Mutex
	nextIdx  uint16
	history  []string
	notify   chan struct{}
	closed   bool
	capacity int
}

func newRoom(capacity int) *room {
	return &room{notify: make(chan struct{}), capacity: capacity}
}

func (r *room) issue() (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity > 0 && int(r.nextIdx) >= r.capacity {
		return 0, false
	}
	r.nextIdx++
	return r.nextIdx, true
}

func (r *room) append(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, msg)
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *room) since(from int) ([]string, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var msgs []string
	if from < len(r.history) {
		msgs = append(msgs, r.history[from:]...)
	}
	return msgs, r.notify, r.closed
}

type Option func(*Server)

// WithRoomCapacity makes the relay refuse seats beyond capacity.
func WithRoomCapacity(capacity int) Option {
	return func(s *Server) {
		s.capacity = capacity
	}
}

// Server keeps every room's history and replays it to late subscribers.
type Server struct {
	mu       sync.Mutex
	rooms    map[string]*room
	joins    map[string]int
	capacity int
	closed   bool

	echo *echo.Echo
	http *httptest.Server
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		rooms: make(map[string]*room),
		joins: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.POST("/rooms/:room/issue_unique_idx", s.issueIndex)
	e.GET("/rooms/:room/subscribe", s.subscribe)
	e.POST("/rooms/:room/broadcast", s.broadcast)
	s.echo = e
	s.http = httptest.NewServer(e)

	return s
}

func (s *Server) URL() string {
	return s.http.URL
}

func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.rooms {
		r.close()
	}
	s.mu.Unlock()
	s.http.Close()
}

// Joins returns how many seats were issued in room.
func (s *Server) Joins(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joins[name]
}

// Messages returns the messages posted to room so far.
func (s *Server) Messages(name string) []protocol.Message {
	msgs, _, _ := s.room(name).since(0)
	out := make([]protocol.Message, 0, len(msgs))
	for _, raw := range msgs {
		var msg protocol.Message
		if err := json.Unmarshal([]byte(raw), &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// Inject posts msg to room as if a party had broadcast it.
func (s *Server) Inject(name string, msg protocol.Message) error {
	bz, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.room(name).append(string(bz))
	return nil
}

// InjectRaw posts an arbitrary frame to room.
func (s *Server) InjectRaw(name, frame string) {
	s.room(name).append(frame)
}

// CloseRoom ends every subscription of room.
func (s *Server) CloseRoom(name string) {
	s.room(name).close()
}

func (s *Server) room(name string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		r = newRoom(s.capacity)
		r.closed = s.closed
		s.rooms[name] = r
	}
	return r
}

func (s *Server) issueIndex(c echo.Context) error {
	name := c.Param("room")
	idx, ok := s.room(name).issue()
	if !ok {
		return c.JSON(http.StatusConflict, map[string]string{"error": "room is full"})
	}

	s.mu.Lock()
	s.joins[name]++
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]uint16{"unique_idx": idx})
}

func (s *Server) broadcast(c echo.Context) error {
	bz, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	var msg protocol.Message
	if err := json.Unmarshal(bz, &msg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed message"})
	}

	s.room(c.Param("room")).append(string(bz))

	return c.NoContent(http.StatusOK)
}

func (s *Server) subscribe(c echo.Context) error {
	r := s.room(c.Param("room"))
	ctx := c.Request().Context()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	sent := 0
	for {
		msgs, notify, closed := r.since(sent)
		for _, msg := range msgs {
			if _, err := fmt.Fprintf(resp, "id: %d\nevent: new-message\ndata: %s\n\n", sent, msg); err != nil {
				return nil
			}
			sent++
		}
		resp.Flush()

		if closed {
			return nil
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return nil
		}
	}
}
