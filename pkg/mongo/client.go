// Package mongo manages the document store connection.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds connection configuration.
type ClientConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// WithURI sets the connection string.
func WithURI(uri string) ClientOption {
	return func(c *ClientConfig) {
		c.URI = uri
	}
}

// WithDatabase sets the database name.
func WithDatabase(db string) ClientOption {
	return func(c *ClientConfig) {
		c.Database = db
	}
}

// WithTimeout sets the connect/ping timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = d
	}
}

// Client wraps a connected mongo client and its database handle.
type Client struct {
	cl *mongo.Client
	db *mongo.Database
}

// NewClient connects and pings the deployment. A failed ping is fatal to
// the caller; the pipeline cannot run without its store.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		Database: "nem_prices",
		Timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	cl, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetServerAPIOptions(serverAPI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := cl.Ping(ctx, readpref.Primary()); err != nil {
		_ = cl.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &Client{cl: cl, db: cl.Database(cfg.Database)}, nil
}

// Collection returns a collection handle.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Health performs a ping.
func (c *Client) Health(ctx context.Context) error {
	return c.cl.Ping(ctx, readpref.Primary())
}

// Close disconnects.
func (c *Client) Close(ctx context.Context) error {
	return c.cl.Disconnect(ctx)
}
