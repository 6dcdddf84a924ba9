// Package sheets downloads Google Sheets tabs as CSV.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pavelanni/examportal/internal/ingest/tabular"
)

const defaultBaseURL = "https://docs.google.com"

var (
	ErrInvalidURL = errors.New("invalid Google Sheet URL")
	// ErrUnavailable means the sheet could not be downloaded, usually because
	// it is not shared with "anyone with the link".
	ErrUnavailable = errors.New("could not fetch sheet")
)

// Fetcher retrieves the CSV export of a spreadsheet tab.
type Fetcher struct {
	client  *resty.Client
	baseURL string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBaseURL points the fetcher at another host, for tests.
func WithBaseURL(u string) Option {
	return func(f *Fetcher) { f.baseURL = u }
}

func New(timeout time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  resty.New().SetTimeout(timeout).SetRetryCount(1),
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// ExportURL builds the CSV export URL for a sheet id and tab id.
func (f *Fetcher) ExportURL(sheetID, gid string) string {
	return fmt.Sprintf("%s/spreadsheets/d/%s/export?format=csv&gid=%s", f.baseURL, sheetID, gid)
}

// FetchCSV downloads the tab referenced by a Google Sheets share URL.
func (f *Fetcher) FetchCSV(ctx context.Context, sheetURL string) (string, error) {
	id := tabular.SheetID(sheetURL)
	if id == "" {
		return "", ErrInvalidURL
	}
	url := f.ExportURL(id, tabular.SheetGID(sheetURL))
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		slog.Warn("sheet export failed", "url", url, "status", resp.StatusCode())
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	return string(resp.Body()), nil
}
