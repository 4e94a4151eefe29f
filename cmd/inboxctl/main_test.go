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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmworks/docinbox/internal/models"
)

func execute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	classifySubject, classifyFileName, classifyJSON = "", "", false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestClassifyCommand_Stdin(t *testing.T) {
	out := execute(t, "Rechnungsnummer: RE-2026-0042\nNetto 1.234,56 EUR", "classify")

	assert.Contains(t, out, "Kind:       supplier_invoice")
	assert.Contains(t, out, "Invoice:    RE-2026-0042")
	assert.Contains(t, out, "Net:        1234.56")
}

func TestClassifyCommand_FileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Lieferschein.txt")
	require.NoError(t, os.WriteFile(path, []byte("Lieferschein Nr. LS-4711"), 0o600))

	out := execute(t, "", "classify", "--json", path)
	assert.Contains(t, out, `"kind": "supplier_delivery_note"`)
}

func TestPrintEvents(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, printEvents(cmd, []models.InboundEvent{
		{EventType: models.EventReceived, ToStatus: models.StatusReceived, CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		{EventType: models.EventConfirmed, FromStatus: models.StatusPreassigned, ToStatus: models.StatusConfirmed, Actor: "user-7", CreatedAt: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
	}, false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2026-03-01T08:00:00Z  received   - -> received  (system)", lines[0])
	assert.Equal(t, "2026-03-02T09:30:00Z  confirmed  preassigned -> confirmed  (user-7)", lines[1])

	out.Reset()
	require.NoError(t, printEvents(cmd, nil, false))
	assert.Equal(t, "No events recorded.\n", out.String())
}
