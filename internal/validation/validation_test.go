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

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidation(t *testing.T) {
	t.Run("ValidateDocID test", func(t *testing.T) {
		assert.NoError(t, ValidateDocID("my-doc_1.v2~draft"))
		assert.NoError(t, ValidateDocID("Case-Sensitive"))

		err := ValidateDocID("a/../b")
		assert.Equal(t, "doc_id", err.(Violation).Tag)

		err = ValidateDocID("with space")
		assert.Equal(t, "doc_id", err.(Violation).Tag)

		err = ValidateDocID("")
		assert.Equal(t, "required", err.(Violation).Tag)

		err = ValidateDocID(strings.Repeat("a", DocIDMaxLength+1))
		assert.Equal(t, "max", err.(Violation).Tag)
	})

	t.Run("ValidateStruct test", func(t *testing.T) {
		type request struct {
			DocID string `validate:"omitempty,doc_id"`
			TTL   int    `validate:"gte=0"`
		}

		assert.NoError(t, ValidateStruct(request{}))
		assert.NoError(t, ValidateStruct(request{DocID: "ok", TTL: 10}))

		err := ValidateStruct(request{DocID: "not/ok", TTL: -1})
		structError := err.(*StructError)
		assert.Len(t, structError.Violations, 2)
		assert.Equal(t, "DocID", structError.Violations[0].Field)
	})
}
