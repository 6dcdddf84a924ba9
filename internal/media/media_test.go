package media

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDecodeDataURI(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("PNGDATA"))
	tests := []struct {
		name     string
		in       string
		wantType string
		wantData string
		wantErr  bool
	}{
		{"base64", "data:image/png;base64," + png, "image/png", "PNGDATA", false},
		{"plain", "data:text/plain,hello%20world", "text/plain", "hello world", false},
		{"no type", "data:;base64," + png, "application/octet-stream", "PNGDATA", false},
		{"missing comma", "data:image/png;base64", "", "", true},
		{"bad base64", "data:image/png;base64,!!!", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, data, err := DecodeDataURI(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if ct != tt.wantType || string(data) != tt.wantData {
				t.Errorf("got %q %q, want %q %q", ct, data, tt.wantType, tt.wantData)
			}
		})
	}

	if _, _, err := DecodeDataURI("https://example.com/a.png"); !errors.Is(err, ErrNotDataURI) {
		t.Errorf("expected ErrNotDataURI, got %v", err)
	}
}

func TestResolveLocal(t *testing.T) {
	dir := t.TempDir()
	sink := &LocalSink{Dir: dir, URLPrefix: "/media/"}
	ctx := context.Background()

	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("img"))
	got, err := Resolve(ctx, sink, src)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasPrefix(got, "/media/") || !strings.HasSuffix(got, ".png") {
		t.Fatalf("unexpected url %q", got)
	}
	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(got, "/media/")))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "img" {
		t.Errorf("stored %q, want img", data)
	}

	for _, in := range []string{"https://example.com/x.png", ""} {
		if got, err := Resolve(ctx, sink, in); err != nil || got != in {
			t.Errorf("Resolve(%q) = %q, %v; want unchanged", in, got, err)
		}
	}
	if got, _ := Resolve(ctx, nil, src); got != src {
		t.Error("nil sink must keep data URIs inline")
	}
}
