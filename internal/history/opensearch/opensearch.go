// Package opensearch indexes lifecycle events into OpenSearch or
// Elasticsearch through the document REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/loykin/taskmaster/internal/history"
)

const (
	DefaultIndex   = "taskmaster-events"
	DefaultTimeout = 5 * time.Second
	errBodyLimit   = 512
)

// Options configures a Sink. URL is the cluster base address.
type Options struct {
	URL        string
	Index      string
	DailyIndex bool // append -YYYY.MM.DD of the event time to Index
	Username   string
	Password   string
	Client     *http.Client // DefaultTimeout client when nil
}

// StatusError is returned when the cluster rejects a document.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("opensearch: index rejected with status %d", e.Code)
	}
	return fmt.Sprintf("opensearch: index rejected with status %d: %s", e.Code, e.Body)
}

// Sink writes one document per event with PUT index/_doc/<id>. The id is
// derived from the slot and the event time, so a retried send overwrites
// instead of duplicating.
type Sink struct {
	base   *url.URL
	opts   Options
	client *http.Client
}

func New(opts Options) (*Sink, error) {
	if opts.URL == "" {
		return nil, errors.New("opensearch: empty url")
	}
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("opensearch: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("opensearch: unsupported scheme %q", base.Scheme)
	}
	if base.Path == "" {
		base.Path = "/"
	}
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	c := opts.Client
	if c == nil {
		c = &http.Client{Timeout: DefaultTimeout}
	}
	return &Sink{base: base, opts: opts, client: c}, nil
}

// document is the indexed shape: the event plus the fields dashboards key on.
type document struct {
	history.Event
	Timestamp time.Time `json:"@timestamp"`
	Slot      string    `json:"slot"`
}

func (s *Sink) indexFor(t time.Time) string {
	if !s.opts.DailyIndex {
		return s.opts.Index
	}
	return s.opts.Index + "-" + t.UTC().Format("2006.01.02")
}

func docID(e history.Event) string {
	return e.Key() + ":" + string(e.Type) + ":" + strconv.FormatInt(e.OccurredAt.UnixNano(), 10)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(document{Event: e, Timestamp: e.OccurredAt, Slot: e.Key()})
	if err != nil {
		return fmt.Errorf("opensearch: encode: %w", err)
	}
	target := s.base.JoinPath(s.indexFor(e.OccurredAt), "_doc", docID(e))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}
