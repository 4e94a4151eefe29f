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

package classify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmworks/docinbox/internal/models"
)

func TestClassify_OrderConfirmation(t *testing.T) {
	got := Classify(Input{
		FileName: "Auftragsbestaetigung.pdf",
		Subject:  "Auftragsbestätigung AB-77812 zu Bestellung 2026-LAB01",
		BodyText: "Liefertermin: 15.03.2026\nProjekt P-1042",
	})

	assert.Equal(t, models.KindAB, got.Kind)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
	assert.Equal(t, []string{"2026-LAB01"}, got.OrderNumbers)
	assert.Equal(t, []string{"P-1042"}, got.ProjectOrderNumbers)
	assert.Equal(t, "AB-77812", got.ABNumber)
	assert.Equal(t, "2026-03-15", got.ConfirmedDeliveryDate)
	assert.Equal(t, models.SourceHeuristic, got.Source)
	assert.Empty(t, got.Warnings)

	assert.Empty(t, got.InvoiceNumber)
	assert.Empty(t, got.DeliveryNoteNumber)
	assert.Nil(t, got.NetAmount)
}

func TestClassify_DeliveryNote(t *testing.T) {
	got := Classify(Input{
		Subject:  "Lieferschein LS-55012",
		BodyText: "Lieferdatum: 2026-02-03\nIhre Bestellung 2026-LAB01",
	})

	assert.Equal(t, models.KindSupplierDeliveryNote, got.Kind)
	assert.Equal(t, "LS-55012", got.DeliveryNoteNumber)
	assert.Equal(t, "2026-02-03", got.DeliveryDate)
	assert.Equal(t, []string{"2026-LAB01"}, got.OrderNumbers)
	assert.Empty(t, got.ProjectOrderNumbers)
	assert.Empty(t, got.ConfirmedDeliveryDate)
}

func TestClassify_Invoice(t *testing.T) {
	got := Classify(Input{
		Subject: "Rechnung RE-2026-0042",
		BodyText: "Rechnungsdatum: 01.04.2026\n" +
			"Zahlbar bis 30.04.2026\n" +
			"Nettobetrag: 1.234,56 EUR\n" +
			"MwSt 19 %\n" +
			"Bestellung 2026-LAB01",
	})

	assert.Equal(t, models.KindSupplierInvoice, got.Kind)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
	assert.Equal(t, "RE-2026-0042", got.InvoiceNumber)
	assert.Equal(t, "2026-04-01", got.InvoiceDate)
	assert.Equal(t, "2026-04-30", got.DueDate)
	require.NotNil(t, got.NetAmount)
	assert.Equal(t, "1234.56", got.NetAmount.String())
	require.NotNil(t, got.TaxRate)
	assert.Equal(t, "19", got.TaxRate.String())
	assert.Empty(t, got.ProjectOrderNumbers)
}

func TestClassify_UnknownKeepsReferences(t *testing.T) {
	got := Classify(Input{
		Subject:  "Hallo",
		BodyText: "Anbei die Unterlagen zu 2026-LAB01",
	})

	assert.Equal(t, models.KindUnknown, got.Kind)
	assert.InDelta(t, 0.2, got.Confidence, 1e-9)
	assert.Equal(t, []string{"2026-LAB01"}, got.OrderNumbers)
	assert.Empty(t, got.Evidence)
	assert.NotNil(t, got.Warnings)
}

func TestClassify_TieIsUnknown(t *testing.T) {
	got := Classify(Input{Subject: "Lieferschein / Eingangsrechnung"})

	assert.Equal(t, models.KindUnknown, got.Kind)
	assert.InDelta(t, 0.2, got.Confidence, 1e-9)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "ambiguous")
	assert.Len(t, got.Evidence, 2)
}

func TestClassify_DeliveryWeekWarning(t *testing.T) {
	got := Classify(Input{
		Subject:  "Auftragsbestätigung 4711-LX12",
		BodyText: "Liefertermin: KW 14",
	})

	assert.Equal(t, models.KindAB, got.Kind)
	assert.Empty(t, got.ConfirmedDeliveryDate)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "KW 14")
	assert.Equal(t, []string{"4711-LX12"}, got.OrderNumbers)
}

func TestClassify_InvalidDateDropped(t *testing.T) {
	got := Classify(Input{
		Subject:  "Auftragsbestaetigung",
		BodyText: "Liefertermin: 31.02.2026",
	})

	assert.Equal(t, models.KindAB, got.Kind)
	assert.Empty(t, got.ConfirmedDeliveryDate)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "confirmed delivery date")
}

func TestClassify_HeaderHitWins(t *testing.T) {
	// "Rechnung" in the subject outweighs a lieferschein mention in the body.
	got := Classify(Input{
		Subject:  "Ihre Rechnung",
		BodyText: "Die Ware wurde mit Lieferschein geliefert.",
	})

	assert.Equal(t, models.KindSupplierInvoice, got.Kind)
}

func TestClassify_Deterministic(t *testing.T) {
	in := Input{
		FileName: "RE_0042.pdf",
		Subject:  "Rechnung 2026-0042",
		BodyText: "Nettobetrag 99,90\nProjekt KV-3000-2 Bestellung 12A-LB77",
	}
	assert.Equal(t, Classify(in), Classify(in))
}

func TestExtractReferences(t *testing.T) {
	orders, projects := extractReferences("Projekt ABC-1234-12 und AB-5555, Bestellung 2026-lab01 / 2026-LAB01")

	assert.Equal(t, []string{"2026-LAB01"}, orders)
	assert.Equal(t, []string{"ABC-1234-12"}, projects)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"1234,5", "1234.5"},
		{"1.234", "1234"},
		{"99.90", "99.9"},
		{"1 234,56", "1234.56"},
		{"1'234.50", "1234.5"},
		{"12.345.678,90", "12345678.9"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseAmount(tt.raw)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}

	_, err := parseAmount("abc")
	assert.Error(t, err)
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "15.3.26", want: "2026-03-15"},
		{raw: "2026-3-5", want: "2026-03-05"},
		{raw: "15. 03. 2026", want: "2026-03-15"},
		{raw: "31.02.2026", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := normalizeDate(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
