package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/forgecrate/registry/pkg/config"
	"github.com/forgecrate/registry/pkg/metastore"
	"github.com/forgecrate/registry/pkg/metastore/boltstore"
	"github.com/forgecrate/registry/pkg/metastore/dynamostore"
	"github.com/forgecrate/registry/pkg/metastore/redisstore"
)

// newMetastore dispatches to the configured metastore.Store driver
// (SPEC_FULL.md §4.3a). It lives here, not in pkg/metastore, because
// seeing all three driver subpackages at once would otherwise make
// pkg/metastore import its own importers (boltstore/redisstore/
// dynamostore each import pkg/metastore for the Store contract) —
// this composition root is the only place that may import all four.
func newMetastore(ctx context.Context, cfg config.MetastoreConfig) (metastore.Store, error) {
	switch cfg.Driver {
	case "bolt":
		return boltstore.Open(cfg.BoltPath)
	case "redis":
		return redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = &cfg.DynamoEndpoint
			}
		})
		return dynamostore.New(client, cfg.DynamoTablePrefix), nil
	default:
		return nil, fmt.Errorf("unknown metastore driver %q", cfg.Driver)
	}
}
