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

package documents

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Storage layout of a document:
//
//	<docID>/snapshot
//	<docID>/update/<seq as 20 zero-padded digits>
//
// Zero padding makes lexicographic key order equal to sequence order.

// SnapshotKey returns the key of the snapshot of the given document.
func SnapshotKey(docID string) string {
	return docID + "/snapshot"
}

// UpdatePrefix returns the common prefix of the update log of the given
// document.
func UpdatePrefix(docID string) string {
	return docID + "/update/"
}

// UpdateKey returns the key of the update record with the given sequence.
func UpdateKey(docID string, seq int64) string {
	return fmt.Sprintf("%s%020d", UpdatePrefix(docID), seq)
}

func parseUpdateSeq(docID, key string) (int64, error) {
	rest, ok := strings.CutPrefix(key, UpdatePrefix(docID))
	if !ok || len(rest) != 20 {
		return 0, fmt.Errorf("unexpected key %s", key)
	}

	seq, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("unexpected key %s", key)
	}

	return seq, nil
}

// snapshot is the stored form of a compacted document.
type snapshot struct {
	// Baseline is the sequence of the last update the state incorporates.
	Baseline int64 `bson:"baseline"`

	// State is the whole document encoded as a single update.
	State []byte `bson:"state"`

	CreatedAt time.Time `bson:"created_at"`
}

func encodeSnapshot(s *snapshot) ([]byte, error) {
	data, err := bson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	return data, nil
}

func decodeSnapshot(data []byte) (*snapshot, error) {
	s := &snapshot{}
	if err := bson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Baseline < 0 {
		return nil, fmt.Errorf("decode snapshot: negative baseline %d", s.Baseline)
	}

	return s, nil
}
