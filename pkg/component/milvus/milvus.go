// Package milvus wraps the Milvus SDK client for read-only corpus access.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/statute-agent/pkg/options/milvus"
)

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options

	// collections already loaded into memory
	loaded sync.Map
}

// New creates a new Milvus client.
func New(opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{
		client: c,
		opts:   opts,
	}, nil
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// RawClient returns the underlying Milvus client.
func (c *Client) RawClient() *milvusclient.Client {
	return c.client
}

// Ping checks that the server answers and the collection exists.
func (c *Client) Ping(ctx context.Context, collection string) error {
	ok, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(collection))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !ok {
		return fmt.Errorf("collection %q does not exist", collection)
	}
	return nil
}

func (c *Client) ensureLoaded(ctx context.Context, collection string) error {
	if _, ok := c.loaded.Load(collection); ok {
		return nil
	}
	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(collection))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	c.loaded.Store(collection, struct{}{})
	return nil
}

// SearchRequest describes one vector search.
type SearchRequest struct {
	Collection   string
	VectorField  string
	Vector       []float32
	TopK         int
	Filter       string
	OutputFields []string
}

// Row is one result row: the score (zero for scalar queries) and the
// requested output fields.
type Row struct {
	Score  float32
	Fields map[string]any
}

// Search performs a vector similarity search.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Row, error) {
	if err := c.ensureLoaded(ctx, req.Collection); err != nil {
		return nil, err
	}

	field := req.VectorField
	if field == "" {
		field = "embedding"
	}

	opt := milvusclient.NewSearchOption(
		req.Collection,
		req.TopK,
		[]entity.Vector{entity.FloatVector(req.Vector)},
	).WithANNSField(field).
		WithOutputFields(req.OutputFields...)
	if req.Filter != "" {
		opt = opt.WithFilter(req.Filter)
	}

	results, err := c.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []Row{}, nil
	}

	rs := results[0]
	rows := make([]Row, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		row := Row{Fields: make(map[string]any, len(rs.Fields))}
		if i < len(rs.Scores) {
			row.Score = rs.Scores[i]
		}
		for _, col := range rs.Fields {
			if v, ok := columnValue(col, i); ok {
				row.Fields[col.Name()] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Query runs a scalar filter query.
func (c *Client) Query(ctx context.Context, collection, filter string, outputFields ...string) ([]Row, error) {
	if err := c.ensureLoaded(ctx, collection); err != nil {
		return nil, err
	}

	rs, err := c.client.Query(ctx, milvusclient.NewQueryOption(collection).
		WithFilter(filter).
		WithOutputFields(outputFields...))
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	rows := make([]Row, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		row := Row{Fields: make(map[string]any, len(rs.Fields))}
		for _, col := range rs.Fields {
			if v, ok := columnValue(col, i); ok {
				row.Fields[col.Name()] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GetCollectionStats returns the number of entities in a collection.
func (c *Client) GetCollectionStats(ctx context.Context, collectionName string) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(collectionName))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}

	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

func columnValue(col column.Column, i int) (any, bool) {
	switch c := col.(type) {
	case *column.ColumnVarChar:
		return c.Data()[i], true
	case *column.ColumnString:
		return c.Data()[i], true
	case *column.ColumnInt64:
		return c.Data()[i], true
	case *column.ColumnInt32:
		return int64(c.Data()[i]), true
	case *column.ColumnJSONBytes:
		return c.Data()[i], true
	}
	return nil, false
}
