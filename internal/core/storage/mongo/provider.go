// Package mongo runs the catalog on MongoDB. File records use the stream as
// partition key and "{date}/{file}" as sort key, the layout a partition-key
// document store expects.
package mongo

import (
	"context"
	"time"

	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const backendName = "mongo"

// Provider owns one MongoDB client and the catalog database.
type Provider struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewProvider connects to cfg.URI and verifies the connection.
func NewProvider(ctx context.Context, cfg config.MongoConfig) (*Provider, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI)

	// Set some reasonable defaults if not provided in URI
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(10 * time.Second)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	return &Provider{
		client: client,
		db:     client.Database(cfg.DatabaseName),
	}, nil
}

// Database returns the catalog database.
func (p *Provider) Database() *mongo.Database {
	return p.db
}

// Close disconnects the client.
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
