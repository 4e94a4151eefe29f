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
	"fmt"
	"regexp"
	"strings"

	"github.com/crmworks/docinbox/internal/models"
)

// keyword is a detector trigger. Specificity ranks how strongly the term
// alone identifies the document kind (1 weak … 3 unambiguous).
type keyword struct {
	term        string
	pattern     *regexp.Regexp
	specificity int
}

func kw(term string, specificity int) keyword {
	return keyword{
		term:        term,
		pattern:     regexp.MustCompile(`(?i)\b` + term),
		specificity: specificity,
	}
}

// word is kw with a trailing boundary, for short tokens like "AB".
func word(term string, specificity int) keyword {
	return keyword{
		term:        term,
		pattern:     regexp.MustCompile(`(?i)\b` + term + `\b`),
		specificity: specificity,
	}
}

// extraction is what one detector pulled out of the text.
type extraction struct {
	signals  models.DocumentSignals
	fields   int
	warnings []string
}

// detector recognises one document kind.
type detector struct {
	kind     models.DocumentKind
	keywords []keyword
	expected int
	extract  func(text string, refs bool) extraction
}

var (
	orderNumberRe   = regexp.MustCompile(`(?i)\b([A-Z0-9]{3,}-L[A-Z0-9]{2,})\b`)
	projectNumberRe = regexp.MustCompile(`(?i)\b([A-Z]{1,4}-\d{3,}(?:-\d{1,3})?)\b`)

	abNumberRe = regexp.MustCompile(
		`(?i)(?:\bAB\b|auftragsbestaetigung|bestellbestaetigung|order\s*confirmation)s?(?:[-\s]*(?:nr|no|nummer|number))?\.?[\s:#-]*([A-Z0-9][A-Z0-9/-]{2,})`)
	deliveryNoteNumberRe = regexp.MustCompile(
		`(?i)(?:\bLS\b|lieferschein|delivery\s*note)(?:[-\s]*(?:nr|no|nummer|number))?\.?[\s:#-]*([A-Z0-9][A-Z0-9/-]{2,})`)
	invoiceNumberRe = regexp.MustCompile(
		`(?i)(?:\bRE\b|\bRG\b|rechnung|invoice)(?:s?[-\s]*(?:nr|no|nummer|number))?\.?[\s:#-]*([A-Z0-9][A-Z0-9/-]{2,})`)

	confirmedDeliveryDateRe = regexp.MustCompile(
		`(?i)(?:liefertermin|lieferdatum|voraussichtliche\s*lieferung|delivery\s*date)[^\d\n]{0,30}` + dateToken)
	deliveryWeekRe = regexp.MustCompile(
		`(?i)(?:liefertermin|lieferwoche|lieferdatum|delivery\s*(?:date|week))[^\d\n]{0,20}\bKW\s*(\d{1,2})`)
	deliveryDateRe = regexp.MustCompile(
		`(?i)(?:lieferdatum|liefertag|lieferung\s*am|geliefert\s*am|versanddatum|delivery\s*date)[^\d\n]{0,30}` + dateToken)
	invoiceDateRe = regexp.MustCompile(
		`(?i)(?:rechnungsdatum|datum\s*der\s*rechnung|invoice\s*date)[^\d\n]{0,30}` + dateToken)
	dueDateRe = regexp.MustCompile(
		`(?i)(?:faelligkeit(?:sdatum)?|faellig\s*am|zahlbar\s*bis|due\s*date)[^\d\n]{0,30}` + dateToken)

	netAmountRe = regexp.MustCompile(
		`(?i)(?:nettobetrag|summe\s*netto|netto(?:summe)?|net\s*amount|subtotal)[^\d\n]{0,20}(\d{1,3}(?:[.\s']\d{3})+(?:,\d{1,2})?|\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:[.,]\d{1,2})?)`)
	taxRateAfterRe = regexp.MustCompile(
		`(?i)\b(?:mwst|ust|mehrwertsteuer|umsatzsteuer|vat)\.?[^\d\n%]{0,15}(\d{1,2}(?:[.,]\d{1,2})?)\s*%`)
	taxRateBeforeRe = regexp.MustCompile(
		`(?i)(\d{1,2}(?:[.,]\d{1,2})?)\s*%\s*\b(?:mwst|ust|mehrwertsteuer|umsatzsteuer|vat)`)
)

// documentNumberPrefixes are prefixes of AB/delivery-note/invoice numbers
// that would otherwise be read as project order numbers.
var documentNumberPrefixes = map[string]bool{
	"AB": true, "LS": true, "RE": true, "RG": true, "NR": true, "KW": true,
}

// extractReferences returns business order numbers and project order numbers.
func extractReferences(text string) (orders, projects []string) {
	for _, m := range orderNumberRe.FindAllStringSubmatch(text, -1) {
		orders = append(orders, m[1])
	}
	for _, m := range projectNumberRe.FindAllStringSubmatch(text, -1) {
		token := m[1]
		prefix, _, _ := strings.Cut(token, "-")
		if documentNumberPrefixes[strings.ToUpper(prefix)] {
			continue
		}
		projects = append(projects, token)
	}
	return dedupeUpper(orders), dedupeUpper(projects)
}

// dateField extracts a labelled date into dst, counting it as a field on
// success and recording a warning when the token is not a real date.
func dateField(ex *extraction, text string, pattern *regexp.Regexp, label string, dst *string) {
	date, found, err := labeledDate(text, pattern)
	switch {
	case !found:
	case err != nil:
		ex.warnings = append(ex.warnings, fmt.Sprintf("%s could not be parsed and was dropped", label))
	default:
		*dst = date
		ex.fields++
	}
}

func extractAB(text string, refs bool) extraction {
	var ex extraction
	if refs {
		ex.fields++
	}
	if n := firstBusinessToken(text, abNumberRe); n != "" {
		ex.signals.ABNumber = n
		ex.fields++
	}
	dateField(&ex, text, confirmedDeliveryDateRe, "confirmed delivery date", &ex.signals.ConfirmedDeliveryDate)
	if ex.signals.ConfirmedDeliveryDate == "" {
		if m := deliveryWeekRe.FindStringSubmatch(text); m != nil {
			ex.warnings = append(ex.warnings, fmt.Sprintf("delivery week ambiguous (KW %s), no delivery date set", m[1]))
		}
	}
	return ex
}

func extractDeliveryNote(text string, refs bool) extraction {
	var ex extraction
	if refs {
		ex.fields++
	}
	if n := firstBusinessToken(text, deliveryNoteNumberRe); n != "" {
		ex.signals.DeliveryNoteNumber = n
		ex.fields++
	}
	dateField(&ex, text, deliveryDateRe, "delivery date", &ex.signals.DeliveryDate)
	return ex
}

func extractInvoice(text string, _ bool) extraction {
	var ex extraction
	if n := firstBusinessToken(text, invoiceNumberRe); n != "" {
		ex.signals.InvoiceNumber = n
		ex.fields++
	}
	dateField(&ex, text, invoiceDateRe, "invoice date", &ex.signals.InvoiceDate)
	dateField(&ex, text, dueDateRe, "due date", &ex.signals.DueDate)

	if m := netAmountRe.FindStringSubmatch(text); m != nil {
		if amount, err := parseAmount(m[1]); err == nil {
			ex.signals.NetAmount = &amount
			ex.fields++
		} else {
			ex.warnings = append(ex.warnings, "net amount could not be parsed and was dropped")
		}
	}

	m := taxRateAfterRe.FindStringSubmatch(text)
	if m == nil {
		m = taxRateBeforeRe.FindStringSubmatch(text)
	}
	if m != nil {
		if rate, err := parseAmount(m[1]); err == nil {
			ex.signals.TaxRate = &rate
		}
	}
	return ex
}

// detectors is evaluated in order; order only matters for evidence output.
var detectors = []detector{
	{
		kind: models.KindAB,
		keywords: []keyword{
			kw("auftragsbestaetigung", 3),
			kw("bestellbestaetigung", 3),
			kw(`order\s*confirmation`, 3),
			word("ab", 1),
		},
		expected: 3,
		extract:  extractAB,
	},
	{
		kind: models.KindSupplierDeliveryNote,
		keywords: []keyword{
			kw("lieferschein", 3),
			kw("liefer-schein", 3),
			kw(`delivery\s*note`, 3),
			kw("warenbegleitschein", 2),
			kw(`packing\s*slip`, 2),
		},
		expected: 3,
		extract:  extractDeliveryNote,
	},
	{
		kind: models.KindSupplierInvoice,
		keywords: []keyword{
			kw("eingangsrechnung", 3),
			kw("lieferantenrechnung", 3),
			kw("rechnung", 2),
			kw("invoice", 2),
		},
		expected: 4,
		extract:  extractInvoice,
	},
}
