// Package ingest turns uploaded documents and sheets into stored question
// batches.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/examportal/internal/ingest/blocks"
	"github.com/pavelanni/examportal/internal/ingest/tabular"
	"github.com/pavelanni/examportal/internal/ingest/word"
	"github.com/pavelanni/examportal/internal/media"
	"github.com/pavelanni/examportal/internal/model"
)

// Store persists one upload batch atomically.
type Store interface {
	ImportBatch(ctx context.Context, b model.ImportBatch) (*model.Upload, error)
}

// SheetFetcher downloads a Google Sheet tab as CSV text.
type SheetFetcher interface {
	FetchCSV(ctx context.Context, sheetURL string) (string, error)
}

// Report summarizes one import.
type Report struct {
	Added    int           `json:"added"`
	Skipped  int           `json:"skipped"`
	Passages int           `json:"passages"`
	Upload   *model.Upload `json:"upload,omitempty"`
}

// Importer parses uploads and stores them as batches.
type Importer struct {
	store  Store
	sink   media.Sink
	sheets SheetFetcher
}

// New returns an Importer. A nil sink keeps embedded images inline as data
// URIs; a nil fetcher disables sheet imports.
func New(s Store, sink media.Sink, sheets SheetFetcher) *Importer {
	return &Importer{store: s, sink: sink, sheets: sheets}
}

// ImportDocx parses a .docx file into questions for subject.
func (im *Importer) ImportDocx(ctx context.Context, filename, subject string, data []byte) (*Report, error) {
	bs, err := blocks.FromDocx(data)
	if err != nil {
		return nil, err
	}
	return im.ImportWord(ctx, filename, subject, bs)
}

// ImportHTML parses an HTML rendering of a Word document.
func (im *Importer) ImportHTML(ctx context.Context, filename, subject string, data []byte) (*Report, error) {
	bs, err := blocks.FromHTML(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return im.ImportWord(ctx, filename, subject, bs)
}

// ImportWord extracts questions from document blocks and stores them with
// their passages as one upload.
func (im *Importer) ImportWord(ctx context.Context, filename, subject string, bs []blocks.Block) (*Report, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, model.ErrSubjectRequired
	}
	if filename == "" {
		filename = "Word Document"
	}
	bs, err := im.storeImages(ctx, bs)
	if err != nil {
		return nil, err
	}
	res := word.Parse(bs, subject)
	rep, err := im.save(ctx, model.ImportBatch{
		Filename:  filename,
		Subject:   subject,
		Source:    model.SourceWord,
		Passages:  res.Passages,
		Questions: res.Records,
	}, res.Skipped)
	if err != nil {
		return nil, err
	}
	rep.Passages = len(res.Passages)
	return rep, nil
}

// storeImages replaces embedded data URIs with URLs from the media sink.
// Each distinct image is stored once.
func (im *Importer) storeImages(ctx context.Context, bs []blocks.Block) ([]blocks.Block, error) {
	if im.sink == nil {
		return bs, nil
	}
	seen := map[string]string{}
	out := make([]blocks.Block, len(bs))
	for i, b := range bs {
		out[i] = b
		if len(b.Images) == 0 {
			continue
		}
		out[i].Images = make([]string, len(b.Images))
		for j, src := range b.Images {
			url, ok := seen[src]
			if !ok {
				var err error
				if url, err = media.Resolve(ctx, im.sink, src); err != nil {
					return nil, fmt.Errorf("store image: %w", err)
				}
				seen[src] = url
			}
			out[i].Images[j] = url
		}
	}
	return out, nil
}

// ImportCSV stores questions from CSV text. subject fills rows that leave
// their subject empty and labels the upload.
func (im *Importer) ImportCSV(ctx context.Context, filename, subject, text string) (*Report, error) {
	subject = strings.TrimSpace(subject)
	res := tabular.ParseQuestions(tabular.ReadCSV(text), tabular.Options{DefaultSubject: subject})
	if filename == "" {
		filename = "CSV Upload"
	}
	if subject == "" {
		subject = "Mixed"
	}
	return im.save(ctx, model.ImportBatch{
		Filename:  filename,
		Subject:   subject,
		Source:    model.SourceCSV,
		Questions: res.Records,
	}, res.Skipped)
}

// ImportSheet downloads a Google Sheet and stores its questions.
func (im *Importer) ImportSheet(ctx context.Context, sheetURL string) (*Report, error) {
	if im.sheets == nil {
		return nil, fmt.Errorf("sheet import is not configured")
	}
	text, err := im.sheets.FetchCSV(ctx, sheetURL)
	if err != nil {
		return nil, err
	}
	res := tabular.ParseQuestions(tabular.ReadCSV(text), tabular.Options{})
	return im.save(ctx, model.ImportBatch{
		Filename:  "Google Sheet",
		Subject:   "Mixed",
		Source:    model.SourceSheet,
		Questions: res.Records,
	}, res.Skipped)
}

func (im *Importer) save(ctx context.Context, b model.ImportBatch, skipped int) (*Report, error) {
	up, err := im.store.ImportBatch(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("store questions: %w", err)
	}
	slog.Info("import finished", "source", b.Source, "filename", b.Filename,
		"subject", b.Subject, "added", len(b.Questions), "skipped", skipped)
	return &Report{Added: len(b.Questions), Skipped: skipped, Upload: up}, nil
}
