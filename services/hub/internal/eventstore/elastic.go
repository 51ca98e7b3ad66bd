package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"ids/internal/event"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

type ElasticConfig struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
	Transport   http.RoundTripper
}

// ElasticStore writes each stream to its own Elasticsearch index.
type ElasticStore struct {
	client *elasticsearch.Client
	prefix string
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "device_id":   {"type": "keyword"},
      "device_name": {"type": "text"},
      "kind":        {"type": "keyword"},
      "timestamp":   {"type": "date"},
      "captured_at": {"type": "date"},
      "rating":      {"type": "integer"},
      "details":     {"type": "object", "dynamic": true}
    }
  }
}`

var searchFields = []string{
	"device_name",
	"details.path",
	"details.action",
	"details.process",
	"details.interface",
	"details.src_ip",
	"details.dst_ip",
	"details.protocol",
}

func NewElastic(cfg ElasticConfig) (*ElasticStore, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &ElasticStore{client: client, prefix: cfg.IndexPrefix}, nil
}

func (s *ElasticStore) index(stream string) string { return s.prefix + stream }

// DocumentID scopes the agent chosen event id to its device so one device
// cannot overwrite another's documents.
func DocumentID(e event.Event) string { return e.DeviceID + ":" + e.ID }

// EnsureIndices creates missing stream indices with the event mapping.
func (s *ElasticStore) EnsureIndices(ctx context.Context) error {
	for _, stream := range []string{StreamFile, StreamNetwork} {
		idx := s.index(stream)
		res, err := s.client.Indices.Exists([]string{idx}, s.client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("check index %s: %w", idx, err)
		}
		drain(res)
		if res.StatusCode == http.StatusOK {
			continue
		}
		res, err = s.client.Indices.Create(idx,
			s.client.Indices.Create.WithContext(ctx),
			s.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx, err)
		}
		if err := responseError(res); err != nil {
			return fmt.Errorf("create index %s: %w", idx, err)
		}
		slog.Info("created event index", "index", idx)
	}
	return nil
}

func (s *ElasticStore) Put(ctx context.Context, e event.Event) error {
	stream, err := StreamFor(e.Kind)
	if err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	res, err := s.client.Index(s.index(stream), bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(DocumentID(e)),
	)
	if err != nil {
		return fmt.Errorf("index event: %w", err)
	}
	return responseError(res)
}

func (s *ElasticStore) Query(ctx context.Context, q Query) ([]event.Event, error) {
	streams, err := streamsFor(q.Kinds)
	if err != nil {
		return nil, err
	}
	indices := make([]string, 0, len(streams))
	for _, st := range streams {
		indices = append(indices, s.index(st))
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(searchBody(q)); err != nil {
		return nil, err
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(indices...),
		s.client.Search.WithBody(&buf),
		s.client.Search.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search events: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]event.Event, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		var e event.Event
		if err := json.Unmarshal(hit.Source, &e); err != nil {
			slog.Warn("skipping unreadable search hit", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func searchBody(q Query) map[string]any {
	filter := []any{}
	if q.DeviceID != "" {
		filter = append(filter, map[string]any{"term": map[string]any{"device_id": q.DeviceID}})
	}
	boolQ := map[string]any{"filter": filter}
	if q.Text != "" {
		boolQ["must"] = []any{map[string]any{
			"multi_match": map[string]any{
				"query":   q.Text,
				"fields":  searchFields,
				"lenient": true,
			},
		}}
	}
	body := map[string]any{
		"query": map[string]any{"bool": boolQ},
		"sort":  []any{map[string]any{"timestamp": map[string]any{"order": "desc"}}},
	}
	if q.Limit > 0 {
		body["size"] = q.Limit
	}
	return body
}

func (s *ElasticStore) Purge(ctx context.Context, deviceID string) (int64, error) {
	var buf bytes.Buffer
	body := map[string]any{"query": map[string]any{"term": map[string]any{"device_id": deviceID}}}
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, err
	}
	res, err := s.client.DeleteByQuery(
		[]string{s.index(StreamFile), s.index(StreamNetwork)}, &buf,
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithIgnoreUnavailable(true),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("purge events: %s", res.Status())
	}
	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode purge response: %w", err)
	}
	return parsed.Deleted, nil
}

func (s *ElasticStore) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	return responseError(res)
}

func responseError(res *esapi.Response) error {
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("elasticsearch %s: %s", res.Status(), bytes.TrimSpace(msg))
	}
	return nil
}

func drain(res *esapi.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
