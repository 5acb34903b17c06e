package relay

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventReader(t *testing.T) {
	req := require.New(t)

	stream := ": keep-alive\n\n" +
		"id: 0\r\nevent: new-message\r\ndata: {\"a\":1}\r\n\r\n" +
		"data: line1\ndata:line2\n\n" +
		"data: partial"

	er := newEventReader(strings.NewReader(stream))

	ev, err := er.Next()
	req.NoError(err)
	req.Equal("0", ev.id)
	req.Equal("new-message", ev.name)
	req.Equal(`{"a":1}`, string(ev.data))

	ev, err = er.Next()
	req.NoError(err)
	req.Equal("line1\nline2", string(ev.data))

	_, err = er.Next()
	req.ErrorIs(err, io.EOF)
}
