package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/protocol"
)

// Joiner admits the caller into a named room.
type Joiner interface {
	Join(ctx context.Context, room string, opts ...JoinOption) (Session, error)
}

// Session is one party's membership of a room. Incoming yields the messages
// addressed to the party; it is closed when the stream ends.
type Session interface {
	protocol.Transport
	Index() uint16
	Room() string
	Close() error
}

type joinOptions struct {
	partyIndex uint16
}

type JoinOption func(*joinOptions)

// WithPartyIndex filters inbound messages by index instead of the index
// issued by the relay.
func WithPartyIndex(index uint16) JoinOption {
	return func(o *joinOptions) {
		o.partyIndex = index
	}
}

type issueIndexResponse struct {
	UniqueIdx uint16 `json:"unique_idx"`
}

type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	joinTimeout time.Duration
	logger      logger.Logger
}

func NewClient(address string, joinTimeout time.Duration, l logger.Logger) (*Client, error) {
	if address == "" {
		return nil, errors.New("relay address is empty")
	}
	baseURL, err := url.Parse(strings.TrimRight(address, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay address: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("relay address %q must be an absolute URL", address)
	}

	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		joinTimeout: joinTimeout,
		logger:      l,
	}, nil
}

// Join takes a seat in room and subscribes to its stream. The join is
// bounded by the client's join timeout; the subscription lives until ctx
// is done or the session is closed.
func (c *Client) Join(ctx context.Context, room string, opts ...JoinOption) (Session, error) {
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	timedOut := make(chan struct{})
	if c.joinTimeout > 0 {
		timer = time.AfterFunc(c.joinTimeout, func() {
			close(timedOut)
			cancel()
		})
	}
	joinErr := func(kind ErrorKind, err error) error {
		cancel()
		select {
		case <-timedOut:
			kind = Timeout
		default:
			if errors.Is(err, context.DeadlineExceeded) {
				kind = Timeout
			}
		}
		return &Error{Kind: kind, Room: room, Err: err}
	}

	index, err := c.issueIndex(sessCtx, room)
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return nil, joinErr(rerr.Kind, rerr.Err)
		}
		return nil, joinErr(Unreachable, err)
	}

	body, err := c.subscribe(sessCtx, room)
	if err != nil {
		return nil, joinErr(Unreachable, err)
	}
	if timer != nil && !timer.Stop() {
		body.Close()
		return nil, joinErr(Timeout, context.DeadlineExceeded)
	}

	filter := index
	if o.partyIndex != 0 {
		filter = o.partyIndex
	}

	s := &session{
		client:   c,
		room:     room,
		index:    index,
		filter:   filter,
		incoming: make(chan protocol.Message),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.readLoop(sessCtx, body)

	c.logger.Log("joined room %s as party %d", room, index)

	return s, nil
}

func (c *Client) issueIndex(ctx context.Context, room string) (uint16, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.roomURL(room, "issue_unique_idx"), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("failed to issue party index: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict, http.StatusForbidden:
		return 0, &Error{Kind: RoomFull, Room: room}
	default:
		return 0, fmt.Errorf("unexpected status %d issuing party index", resp.StatusCode)
	}

	var issued issueIndexResponse
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		return 0, fmt.Errorf("failed to decode party index: %w", err)
	}
	if issued.UniqueIdx == 0 {
		return 0, errors.New("relay issued party index 0")
	}

	return issued.UniqueIdx, nil
}

func (c *Client) subscribe(ctx context.Context, room string) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.roomURL(room, "subscribe"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d subscribing", resp.StatusCode)
	}

	return resp.Body, nil
}

func (c *Client) broadcast(ctx context.Context, room string, msg protocol.Message) error {
	bz, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.roomURL(room, "broadcast"), bytes.NewReader(bz))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to broadcast: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d broadcasting", resp.StatusCode)
	}

	return nil
}

func (c *Client) roomURL(room, action string) string {
	return c.baseURL.String() + "/rooms/" + url.PathEscape(room) + "/" + action
}

type session struct {
	client   *Client
	room     string
	index    uint16
	filter   uint16
	incoming chan protocol.Message
	cancel   context.CancelFunc
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func (s *session) Index() uint16 {
	return s.index
}

func (s *session) Room() string {
	return s.room
}

func (s *session) Incoming() <-chan protocol.Message {
	return s.incoming
}

func (s *session) Send(ctx context.Context, msg protocol.Message) error {
	if err := s.client.broadcast(ctx, s.room, msg); err != nil {
		kind := Unreachable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = Timeout
		}
		return &Error{Kind: kind, Room: s.room, Err: err}
	}
	return nil
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *session) readLoop(ctx context.Context, body io.ReadCloser) {
	defer close(s.done)
	defer close(s.incoming)
	defer body.Close()

	events := newEventReader(body)
	for {
		ev, err := events.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.setErr(&Error{Kind: Closed, Room: s.room, Err: ctx.Err()})
			case errors.Is(err, io.EOF):
				s.setErr(&Error{Kind: Closed, Room: s.room, Err: err})
			default:
				s.setErr(&Error{Kind: Unreachable, Room: s.room, Err: err})
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(ev.data, &msg); err != nil {
			s.client.logger.Warn("room %s: skipping undecodable frame %s: %v", s.room, ev.id, err)
			continue
		}
		if !msg.IsFor(s.filter) {
			continue
		}

		select {
		case s.incoming <- msg:
		case <-ctx.Done():
			s.setErr(&Error{Kind: Closed, Room: s.room, Err: ctx.Err()})
			return
		}
	}
}
