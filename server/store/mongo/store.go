/*
 * Copyright 2026 The Quince Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mongo implements the store interface on a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/quince-team/quince/server/logging"
	"github.com/quince-team/quince/server/store"
)

const colEntries = "entries"

// entry is a stored key-value pair. The key is the document _id so lookups
// and prefix scans use the primary index.
type entry struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"value"`
}

// Store is a store backed by a MongoDB collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Dial creates an instance of Store and dials the given MongoDB.
func Dial(conf *Config, uri string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w: %w", store.ErrInvalidLocation, err)
	}

	ctxPing, cancelPing := context.WithTimeout(ctx, conf.ParsePingTimeout())
	defer cancelPing()

	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w: %w", store.ErrInvalidLocation, err)
	}

	logging.DefaultLogger().Infof("MongoDB connected, database: %s", conf.Database)

	return &Store{
		client:     client,
		collection: client.Database(conf.Database).Collection(colEntries),
	}, nil
}

// classify marks network failures and timeouts as transient.
func classify(op, key string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return store.Transient(op+" "+key, err)
	}

	return fmt.Errorf("%s %s: %w", op, key, err)
}

// Get returns the value of the given key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result := s.collection.FindOne(ctx, bson.M{"_id": key})

	e := entry{}
	if err := result.Decode(&e); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
		}
		return nil, classify("find", key, err)
	}

	return e.Value, nil
}

// Put stores the value under the given key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.collection.ReplaceOne(
		ctx,
		bson.M{"_id": key},
		entry{Key: key, Value: value},
		options.Replace().SetUpsert(true),
	); err != nil {
		return classify("upsert", key, err)
	}

	return nil
}

// List returns the keys with the given prefix in lexicographic order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	cursor, err := s.collection.Find(
		ctx,
		bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}},
		options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, classify("list", prefix, err)
	}

	var entries []entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, classify("list", prefix, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}

	return keys, nil
}

// Delete removes the given key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return classify("delete", key, err)
	}

	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	if err := s.client.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("close mongo client: %w", err)
	}

	return nil
}
