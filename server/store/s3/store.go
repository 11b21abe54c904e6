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

// Package s3 implements the store interface on an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quince-team/quince/server/logging"
	"github.com/quince-team/quince/server/store"
)

// Store is a store backed by a bucket. Every key is stored under the
// configured prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// ParseLocation splits "s3://bucket/prefix" into bucket and prefix.
func ParseLocation(location string) (string, string, error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%s: %w", location, store.ErrInvalidLocation)
	}

	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%s: missing bucket: %w", location, store.ErrInvalidLocation)
	}

	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// Dial connects to the service and checks that the bucket exists.
func Dial(conf *Config, location string) (*Store, error) {
	bucket, prefix, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewEnvAWS(),
		Secure: !conf.Insecure,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to s3: %w: %w", store.ErrInvalidLocation, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w: %w", bucket, store.ErrInvalidLocation, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist: %w", bucket, store.ErrInvalidLocation)
	}

	logging.DefaultLogger().Infof("S3 connected, URI: %s, bucket: %s", conf.Endpoint, bucket)

	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// classify turns an SDK error into a store error.
func classify(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}

	return store.Transient(op+" "+key, err)
}

// Get returns the value of the given key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.prefix+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get", key, err)
	}
	defer func() {
		_ = obj.Close()
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify("get", key, err)
	}

	return data, nil
}

// Put stores the value under the given key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.client.PutObject(
		ctx,
		s.bucket,
		s.prefix+key,
		bytes.NewReader(value),
		int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"},
	); err != nil {
		return classify("put", key, err)
	}

	return nil
}

// List returns the keys with the given prefix in lexicographic order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	// stops the listing goroutine of minio on an early return
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, classify("list", prefix, obj.Err)
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, s.prefix))
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes the given key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.prefix+key, minio.RemoveObjectOptions{}); err != nil {
		err = classify("delete", key, err)
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}

	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	return nil
}
