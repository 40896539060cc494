package metadata

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"megadata-go/internal/config"
	"megadata-go/internal/megadata"
	"megadata-go/internal/testutil"
)

const contract = "0x00000000000000000000000000000000000000aa"

type countingServer struct {
	*httptest.Server
	requests atomic.Int32
	lastPath atomic.Value
}

func newCountingServer(t *testing.T, status int, body string) *countingServer {
	t.Helper()
	s := &countingServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.lastPath.Store(r.URL.Path)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func chainWithURI(uri string) *testutil.FakeChain {
	c := testutil.NewFakeChain("ethereum")
	c.Deploy("ethereum", contract, &testutil.FakeContract{URIs: map[string]string{"1": uri}})
	return c
}

func TestFetchMetadata_Base64DataURI(t *testing.T) {
	srv := newCountingServer(t, http.StatusOK, `{}`)
	uri := "data:application/json;base64," + base64.StdEncoding.EncodeToString(
		[]byte(`{"name":"One","uri":"spoofed","attributes":[{"trait_type":"eyes"}]}`))

	f := NewFetcher(chainWithURI(uri), config.MetadataConfig{GatewayBase: srv.URL}, srv.Client(), nil)
	got, err := f.FetchMetadata(context.Background(), "ethereum", contract, "1")
	if err != nil {
		t.Fatalf("FetchMetadata() error = %v", err)
	}

	if got["name"] != "One" {
		t.Errorf("name = %v, want One", got["name"])
	}
	if got[KeyURI] != uri || got[KeySource] != "ethereum" || got[KeyID] != contract {
		t.Errorf("annotations = %v/%v/%v, want injected values", got[KeyURI], got[KeySource], got[KeyID])
	}
	if n := srv.requests.Load(); n != 0 {
		t.Errorf("HTTP requests = %d, want 0", n)
	}
}

func TestFetchMetadata_PlainDataURI(t *testing.T) {
	uri := `data:application/json,{"name":"Plain%20Token"}`
	f := NewFetcher(chainWithURI(uri), config.MetadataConfig{}, nil, nil)

	got, err := f.FetchMetadata(context.Background(), "ethereum", contract, "1")
	if err != nil {
		t.Fatalf("FetchMetadata() error = %v", err)
	}
	if got["name"] != "Plain Token" {
		t.Errorf("name = %v, want Plain Token", got["name"])
	}
}

func TestFetchMetadata_Remote(t *testing.T) {
	t.Run("through gateway", func(t *testing.T) {
		srv := newCountingServer(t, http.StatusOK, `{"name":"Remote","source":"fetched"}`)
		f := NewFetcher(chainWithURI("ipfs://QmHash/1"), config.MetadataConfig{GatewayBase: srv.URL + "/"}, srv.Client(), nil)

		got, err := f.FetchMetadata(context.Background(), "ethereum", contract, "1")
		if err != nil {
			t.Fatalf("FetchMetadata() error = %v", err)
		}
		if got["name"] != "Remote" {
			t.Errorf("name = %v, want Remote", got["name"])
		}
		if got[KeySource] != "ethereum" {
			t.Errorf("source = %v, want annotation to win", got[KeySource])
		}
		if p, _ := srv.lastPath.Load().(string); !strings.HasPrefix(p, "/ext/ipfs:") {
			t.Errorf("requested path = %q, want /ext/<uri>", p)
		}
	})

	t.Run("direct http without gateway", func(t *testing.T) {
		srv := newCountingServer(t, http.StatusOK, `{"name":"Direct"}`)
		f := NewFetcher(chainWithURI(srv.URL+"/token/1.json"), config.MetadataConfig{}, srv.Client(), nil)

		got, err := f.FetchMetadata(context.Background(), "ethereum", contract, "1")
		if err != nil {
			t.Fatalf("FetchMetadata() error = %v", err)
		}
		if got["name"] != "Direct" {
			t.Errorf("name = %v, want Direct", got["name"])
		}
	})
}

func TestFetchMetadata_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		uri        string
		noGateway  bool
		wantStatus int
	}{
		{name: "non-2xx", status: http.StatusNotFound, body: "missing", uri: "ipfs://x", wantStatus: http.StatusNotFound},
		{name: "not json", status: http.StatusOK, body: "<html>", uri: "ipfs://x"},
		{name: "json array", status: http.StatusOK, body: "[1,2]", uri: "ipfs://x"},
		{name: "unsupported scheme without gateway", status: http.StatusOK, body: "{}", uri: "ipfs://x", noGateway: true},
		{name: "bad base64", status: http.StatusOK, body: "{}", uri: "data:application/json;base64,%%%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCountingServer(t, tt.status, tt.body)
			cfg := config.MetadataConfig{GatewayBase: srv.URL}
			if tt.noGateway {
				cfg.GatewayBase = ""
			}
			f := NewFetcher(chainWithURI(tt.uri), cfg, srv.Client(), nil)

			_, err := f.FetchMetadata(context.Background(), "ethereum", contract, "1")
			var fetchErr *megadata.FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("FetchMetadata() error = %v, want *FetchError", err)
			}
			if fetchErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", fetchErr.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestFetchMetadata_TokenURIFailure(t *testing.T) {
	f := NewFetcher(chainWithURI("ipfs://x"), config.MetadataConfig{}, nil, nil)

	_, err := f.FetchMetadata(context.Background(), "ethereum", contract, "2")
	var rpcErr *megadata.RPCError
	if !errors.As(err, &rpcErr) {
		t.Errorf("FetchMetadata() error = %v, want *RPCError", err)
	}
}
