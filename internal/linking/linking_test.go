package linking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"megadata-go/internal/config"
)

func TestStatic(t *testing.T) {
	s := NewStatic(map[string][]string{"0xAbC": {"0x1", "0x2"}})

	got, err := s.LinkedAccounts(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("LinkedAccounts() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"0x1", "0x2"}) {
		t.Errorf("LinkedAccounts() = %v, want [0x1 0x2]", got)
	}
	if got, _ := s.LinkedAccounts(context.Background(), "0xdef"); len(got) != 0 {
		t.Errorf("LinkedAccounts(unknown) = %v, want none", got)
	}
}

func TestHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts/0xabc/linked":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"accounts":["0x1","0x2"]}`))
		case "/accounts/0xbad/linked":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	got, err := c.LinkedAccounts(ctx, "0xabc")
	if err != nil {
		t.Fatalf("LinkedAccounts() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"0x1", "0x2"}) {
		t.Errorf("LinkedAccounts() = %v, want [0x1 0x2]", got)
	}

	if got, err := c.LinkedAccounts(ctx, "0xnone"); err != nil || len(got) != 0 {
		t.Errorf("LinkedAccounts(unlinked) = %v, %v, want none", got, err)
	}
	if _, err := c.LinkedAccounts(ctx, "0xbad"); err == nil {
		t.Error("LinkedAccounts() expected error for 500")
	}
}

func TestNewLinkingFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LinkingConfig
		want    any
		wantErr bool
	}{
		{name: "default", cfg: config.LinkingConfig{}, want: None{}},
		{name: "static", cfg: config.LinkingConfig{Type: "static"}, want: &Static{}},
		{name: "http", cfg: config.LinkingConfig{Type: "http", BaseURL: "http://localhost"}, want: &HTTPClient{}},
		{name: "http without url", cfg: config.LinkingConfig{Type: "http"}, wantErr: true},
		{name: "unknown", cfg: config.LinkingConfig{Type: "ldap"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewLinkingFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("NewLinkingFromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLinkingFromConfig() error = %v", err)
			}
			if reflect.TypeOf(got) != reflect.TypeOf(tt.want) {
				t.Errorf("NewLinkingFromConfig() = %T, want %T", got, tt.want)
			}
		})
	}
}
