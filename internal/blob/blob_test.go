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

package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ref, err := s.Put(ctx, "inbound-documents/u1/2026/03/m1/a1_1_rechnung.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	obj, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", obj.MIMEType)
	assert.Equal(t, []byte("%PDF"), obj.Content)

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(ctx, "", "application/pdf", nil)
	assert.Error(t, err)
}
