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

package backend

import (
	"fmt"
	"strings"

	"github.com/quince-team/quince/server/store"
	"github.com/quince-team/quince/server/store/badger"
	"github.com/quince-team/quince/server/store/filesystem"
	"github.com/quince-team/quince/server/store/memory"
	"github.com/quince-team/quince/server/store/mongo"
	"github.com/quince-team/quince/server/store/s3"
)

// OpenStore opens the store backend the location names:
//
//	memory://                 in-memory, lost on exit
//	s3://bucket/prefix        S3 compatible object storage
//	mongodb://..., mongodb+srv://...
//	badger:///path            embedded key-value database
//	file:///path or /path     one file per key
func OpenStore(location string, mongoConf *mongo.Config, s3Conf *s3.Config) (store.Store, error) {
	switch {
	case location == "memory://":
		return memory.New()
	case strings.HasPrefix(location, "s3://"):
		if s3Conf == nil {
			return nil, fmt.Errorf("%s: S3 config missing: %w", location, store.ErrInvalidLocation)
		}
		return s3.Dial(s3Conf, location)
	case strings.HasPrefix(location, "mongodb://"), strings.HasPrefix(location, "mongodb+srv://"):
		if mongoConf == nil {
			return nil, fmt.Errorf("%s: Mongo config missing: %w", location, store.ErrInvalidLocation)
		}
		return mongo.Dial(mongoConf, location)
	case strings.HasPrefix(location, "badger://"):
		return badger.Open(strings.TrimPrefix(location, "badger://"))
	case strings.HasPrefix(location, "file://"):
		return filesystem.New(strings.TrimPrefix(location, "file://"))
	case location == "" || strings.Contains(location, "://"):
		return nil, fmt.Errorf("%q: unknown scheme: %w", location, store.ErrInvalidLocation)
	default:
		return filesystem.New(location)
	}
}
