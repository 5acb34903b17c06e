package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/protocol"
	"github.com/lidofinance/tssd/relay/relaytest"
)

const testJoinTimeout = 2 * time.Second

func newTestClient(t *testing.T, address string) *Client {
	c, err := NewClient(address, testJoinTimeout, logger.NewNop())
	require.NoError(t, err)
	return c
}

func receive(t *testing.T, s Session) protocol.Message {
	select {
	case msg, ok := <-s.Incoming():
		require.True(t, ok, "stream closed: %v", s.Err())
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message in room %s", s.Room())
	}
	return protocol.Message{}
}

func TestJoin_BroadcastAndUnicast(t *testing.T) {
	var (
		req = require.New(t)
		ctx = context.Background()
	)

	srv := relaytest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv.URL())

	s1, err := c.Join(ctx, "room")
	req.NoError(err)
	defer s1.Close()
	s2, err := c.Join(ctx, "room")
	req.NoError(err)
	defer s2.Close()
	s3, err := c.Join(ctx, "room")
	req.NoError(err)
	defer s3.Close()

	req.Equal(uint16(1), s1.Index())
	req.Equal(uint16(2), s2.Index())
	req.Equal(uint16(3), s3.Index())

	req.NoError(s1.Send(ctx, protocol.P2P(1, 3, json.RawMessage(`"for three"`))))
	req.NoError(s1.Send(ctx, protocol.Broadcast(1, json.RawMessage(`"for all"`))))

	msg := receive(t, s2)
	req.Equal(json.RawMessage(`"for all"`), msg.Body)
	req.Equal(uint16(1), msg.Sender)

	msg = receive(t, s3)
	req.Equal(json.RawMessage(`"for three"`), msg.Body)
	msg = receive(t, s3)
	req.Equal(json.RawMessage(`"for all"`), msg.Body)

	select {
	case msg := <-s1.Incoming():
		t.Fatalf("own message delivered back: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJoin_LateJoinerReplaysHistory(t *testing.T) {
	var (
		req = require.New(t)
		ctx = context.Background()
	)

	srv := relaytest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv.URL())

	s1, err := c.Join(ctx, "room")
	req.NoError(err)
	defer s1.Close()
	req.NoError(s1.Send(ctx, protocol.Broadcast(1, json.RawMessage(`1`))))

	s2, err := c.Join(ctx, "room")
	req.NoError(err)
	defer s2.Close()

	req.Equal(json.RawMessage(`1`), receive(t, s2).Body)
}

func TestJoin_WithPartyIndex(t *testing.T) {
	var (
		req = require.New(t)
		ctx = context.Background()
	)

	srv := relaytest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv.URL())

	s, err := c.Join(ctx, "keygen", WithPartyIndex(5))
	req.NoError(err)
	defer s.Close()
	req.Equal(uint16(1), s.Index())

	req.NoError(srv.Inject("keygen", protocol.P2P(1, 5, json.RawMessage(`"mine"`))))
	req.Equal(json.RawMessage(`"mine"`), receive(t, s).Body)
}

func TestJoin_RoomFull(t *testing.T) {
	req := require.New(t)

	srv := relaytest.NewServer(relaytest.WithRoomCapacity(1))
	defer srv.Close()
	c := newTestClient(t, srv.URL())

	s, err := c.Join(context.Background(), "room")
	req.NoError(err)
	defer s.Close()

	_, err = c.Join(context.Background(), "room")
	req.True(IsKind(err, RoomFull), "unexpected error: %v", err)
}

func TestJoin_Unreachable(t *testing.T) {
	req := require.New(t)

	srv := relaytest.NewServer()
	address := srv.URL()
	srv.Close()

	_, err := newTestClient(t, address).Join(context.Background(), "room")
	req.True(IsKind(err, Unreachable), "unexpected error: %v", err)
}

func TestJoin_Timeout(t *testing.T) {
	req := require.New(t)

	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-stall:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(stall)

	c, err := NewClient(srv.URL, 50*time.Millisecond, logger.NewNop())
	req.NoError(err)

	_, err = c.Join(context.Background(), "room")
	req.True(IsKind(err, Timeout), "unexpected error: %v", err)
}

func TestSession_StreamClosedByRelay(t *testing.T) {
	req := require.New(t)

	srv := relaytest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv.URL())

	s, err := c.Join(context.Background(), "room")
	req.NoError(err)
	defer s.Close()

	srv.InjectRaw("room", "{not json")
	req.NoError(srv.Inject("room", protocol.Broadcast(9, json.RawMessage(`"after garbage"`))))
	req.Equal(json.RawMessage(`"after garbage"`), receive(t, s).Body)

	srv.CloseRoom("room")
	select {
	case _, ok := <-s.Incoming():
		req.False(ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed")
	}
	req.True(IsKind(s.Err(), Closed))
}

func TestNewClient_InvalidAddress(t *testing.T) {
	req := require.New(t)

	_, err := NewClient("", time.Second, logger.NewNop())
	req.Error(err)
	_, err = NewClient("relay:8000", time.Second, logger.NewNop())
	req.Error(err)
}
