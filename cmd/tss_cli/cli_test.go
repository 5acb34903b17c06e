package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/lidofinance/tssd/client/services/dispatcher"
	"github.com/lidofinance/tssd/storage"
)

func TestParseParties(t *testing.T) {
	req := require.New(t)

	parties, err := parseParties("")
	req.NoError(err)
	req.Nil(parties)

	parties, err = parseParties("3, 1,2")
	req.NoError(err)
	req.Equal([]uint16{3, 1, 2}, parties)

	for _, bad := range []string{"0", "1,,2", "x", "70000"} {
		_, err = parseParties(bad)
		req.Error(err, bad)
	}
}

func TestNewEnvelope(t *testing.T) {
	req := require.New(t)

	want := dispatcher.SignJobForm{
		Message:   "deadbeef",
		SessionID: "s1",
		Identity:  "validator-1",
		Parties:   []uint16{1, 3},
	}
	bz, err := newEnvelope("r1", want)
	req.NoError(err)

	var env storage.Envelope
	req.NoError(json.Unmarshal(bz, &env))
	req.Equal("r1", env.RequestID)

	var got dispatcher.SignJobForm
	req.NoError(json.Unmarshal([]byte(env.Payload), &got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected job (-want +got):\n%s", diff)
	}
}

func TestGetRequest(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("identity") == "validator-1" {
			fmt.Fprint(w, `{"result":"abcd"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"result":{},"error_message":"no key share for validator-2"}`)
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	var pubKey string
	req.NoError(getRequest(host, "/getPubKey", url.Values{"identity": {"validator-1"}}, &pubKey))
	req.Equal("abcd", pubKey)

	err := getRequest(host, "/getPubKey", url.Values{"identity": {"validator-2"}}, &pubKey)
	req.EqualError(err, "no key share for validator-2")
}
