package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"

	"github.com/pavelanni/examportal/internal/media"
)

func TestNewMediaSink(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		want    string
		wantErr bool
	}{
		{name: "default is inline", backend: "", want: "inline"},
		{name: "inline", backend: "inline", want: "inline"},
		{name: "local", backend: "LOCAL", want: "local"},
		{name: "unknown", backend: "ftp", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("media-backend", tt.backend)
			v.Set("media-dir", t.TempDir())
			v.Set("media-url-prefix", "/media")

			sink, err := newMediaSink(context.Background(), v)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newMediaSink: %v", err)
			}
			switch tt.want {
			case "inline":
				if sink != nil {
					t.Errorf("sink = %T, want nil", sink)
				}
			case "local":
				local, ok := sink.(*media.LocalSink)
				if !ok {
					t.Fatalf("sink = %T, want *media.LocalSink", sink)
				}
				if local.URLPrefix != "/media" {
					t.Errorf("URLPrefix = %q", local.URLPrefix)
				}
			}
		})
	}
}

func TestRootCommandTree(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{{"serve"}, {"import"}, {"users", "import"}, {"export"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd == root {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
	// serve flags are available on the root so it can run as the default.
	if root.Flags().Lookup("addr") == nil {
		t.Error("root is missing the serve flags")
	}
}

func TestNewRouterForwardedHeaders(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		want       string
	}{
		{name: "ignored by default", trustProxy: false, want: "192.0.2.1:1234"},
		{name: "honoured behind proxy", trustProxy: true, want: "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(tt.trustProxy)
			var got string
			r.Get("/ip", func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			})

			req := httptest.NewRequest(http.MethodGet, "/ip", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			r.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}
