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

// Package respond writes the JSON envelope shared by every HTTP surface:
// {"success":true,"data":...} or {"success":false,"error":{"code","message"}}.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/crmworks/docinbox/internal/apperr"
)

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

// JSON writes v as-is with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// OK wraps data in a success envelope.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// Error maps err to its status and code. Internal errors are logged and
// their message replaced so driver details never reach the caller.
func Error(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	body := &errorBody{Code: apperr.CodeOf(err), Message: "internal error"}
	if e, ok := apperr.As(err); ok && e.Code != apperr.CodeInternal {
		body.Message = e.Message
	} else {
		slog.Error("request failed", "error", err)
	}
	JSON(w, status, envelope{Success: false, Error: body})
}
