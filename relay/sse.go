package relay

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

type event struct {
	id   string
	name string
	data []byte
}

// eventReader parses a text/event-stream body.
type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// Next blocks until a complete event with data is read.
func (er *eventReader) Next() (event, error) {
	var (
		ev      event
		data    bytes.Buffer
		hasData bool
	)
	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !hasData {
				continue
			}
			ev.data = data.Bytes()
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], strings.TrimPrefix(line[i+1:], " ")
		}

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			ev.name = value
		case "id":
			ev.id = value
		}
	}
}
