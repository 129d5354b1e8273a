package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type collectionInfo struct {
	name    string
	indexes []mongo.IndexModel
}

var collectionInfos = []collectionInfo{
	{
		name: colUsers,
		indexes: []mongo.IndexModel{{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, {
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, {
			Keys: bson.D{{Key: "friends", Value: 1}},
		}},
	},
	{
		name: colProjects,
		indexes: []mongo.IndexModel{{
			Keys: bson.D{{Key: "ownedBy", Value: 1}},
		}, {
			Keys: bson.D{{Key: "members", Value: 1}},
		}, {
			Keys: bson.D{{Key: "checkedOutBy", Value: 1}},
		}, {
			Keys: bson.D{{Key: "leaseExpiresAt", Value: 1}},
		}, {
			Keys: bson.D{
				{Key: "lastUpdated", Value: -1},
				{Key: "_id", Value: 1},
			},
		}},
	},
	{
		name: colCommits,
		indexes: []mongo.IndexModel{{
			Keys: bson.D{
				{Key: "projectId", Value: 1},
				{Key: "timestamp", Value: -1},
				{Key: "_id", Value: -1},
			},
		}},
	},
	{
		name: colActivities,
		indexes: []mongo.IndexModel{{
			Keys: bson.D{
				{Key: "projectId", Value: 1},
				{Key: "createdAt", Value: -1},
			},
		}, {
			Keys: bson.D{{Key: "userId", Value: 1}},
		}},
	},
}

// EnsureIndexes creates the indexes of every collection. It is idempotent.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	for _, info := range collectionInfos {
		if _, err := d.collection(info.name).Indexes().CreateMany(ctx, info.indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", info.name, err)
		}
	}
	return nil
}
