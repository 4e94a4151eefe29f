// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeAuthFailure, http.StatusUnauthorized},
		{CodeValidation, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").Status)
		})
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := NotFound("inbox item not found")
	wrapped := fmt.Errorf("confirm: %w", base)

	assert.True(t, Is(wrapped, CodeNotFound))
	assert.False(t, Is(wrapped, CodeValidation))
	assert.Equal(t, http.StatusNotFound, StatusOf(wrapped))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
}

func TestCodeOf_ForeignError(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
}

func TestError_Message(t *testing.T) {
	err := Wrap(CodeInternal, "load candidates", fmt.Errorf("connection reset"))
	assert.Equal(t, "[INTERNAL] load candidates: connection reset", err.Error())
	assert.Equal(t, "[FORBIDDEN] nope", Forbidden("nope").Error())
}
