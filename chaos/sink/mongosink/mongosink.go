// Package mongosink implements hooks.Sink by appending each event as a
// document in a MongoDB collection, for installations that already
// centralize operational event logs in Mongo. Events are append-only and
// queryable by trace id.
package mongosink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/chaosforge/agentchaos/chaos/hooks"
)

const (
	defaultCollection = "agentchaos_events"
	defaultTimeout    = 5 * time.Second
)

// Options configures the Mongo-backed sink.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type eventDocument struct {
	TraceID   string         `bson:"trace_id"`
	SpanID    string         `bson:"span_id,omitempty"`
	Provider  string         `bson:"provider,omitempty"`
	Type      string         `bson:"type"`
	Data      map[string]any `bson:"data"`
	Timestamp time.Time      `bson:"timestamp"`
}

// Sink appends hooks.Event values to a MongoDB collection.
type Sink struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// New builds a Sink over opts. It is concurrency-safe across scenario
// runs: the underlying *mongo.Client multiplexes connections internally,
// and InsertOne documents carry no shared mutable state between callers.
func New(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("mongosink: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongosink: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sink{
		coll:    opts.Client.Database(opts.Database).Collection(collection),
		timeout: timeout,
	}, nil
}

// Emit inserts event as one document.
func (s *Sink) Emit(ctx context.Context, event hooks.Event) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	doc := eventDocument{
		TraceID:   event.TraceID,
		SpanID:    event.SpanID,
		Provider:  event.Provider,
		Type:      string(event.Type),
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}
	if _, err := s.coll.InsertOne(cctx, doc); err != nil {
		return fmt.Errorf("mongosink: insert: %w", err)
	}
	return nil
}

// Close is a no-op: the sink does not own the *mongo.Client's lifecycle
// and never closes a client it was handed.
func (s *Sink) Close() error { return nil }

// EnsureIndexes creates the indexes the sink's query patterns rely on
// (lookup by trace id, ordered by timestamp). Call once at startup.
func (s *Sink) EnsureIndexes(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys: bson.D{{Key: "trace_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongosink: ensure indexes: %w", err)
	}
	return nil
}
