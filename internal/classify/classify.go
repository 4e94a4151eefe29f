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

// Package classify turns the text of an inbound document into structured
// signals. Classification is rule based and deterministic: the same input
// always produces the same DocumentSignals.
package classify

import (
	"fmt"
	"strings"

	"github.com/crmworks/docinbox/internal/models"
)

const (
	unknownConfidence    = 0.2
	baseConfidence       = 0.5
	specificKeywordBonus = 0.1
	fieldsWeight         = 0.35
	maxConfidence        = 0.95
	headerBonus          = 2
)

// Input is the text available for one document.
type Input struct {
	FileName string
	Subject  string
	BodyText string
}

// Classify inspects the input and returns the detected kind, references and
// kind-specific fields. It never fails; anything it could not read ends up
// as a warning.
func Classify(in Input) models.DocumentSignals {
	header := fold(in.FileName + "\n" + in.Subject)
	text := header + "\n" + fold(in.BodyText)

	orders, projects := extractReferences(text)
	refs := len(orders) > 0 || len(projects) > 0

	signals := models.DocumentSignals{
		Kind:                models.KindUnknown,
		Confidence:          unknownConfidence,
		OrderNumbers:        orders,
		ProjectOrderNumbers: projects,
		Warnings:            []string{},
		Source:              models.SourceHeuristic,
	}

	type scored struct {
		det      detector
		evidence models.DetectorEvidence
		ex       extraction
	}
	var hits []scored
	for _, d := range detectors {
		ev, ok := matchKeywords(d, text, header)
		if !ok {
			continue
		}
		ex := d.extract(text, refs)
		ev.FieldsExtracted = ex.fields
		ev.FieldsExpected = d.expected
		ev.Strength = ev.Specificity + ex.fields
		if ev.HeaderHit {
			ev.Strength += headerBonus
		}
		hits = append(hits, scored{det: d, evidence: ev, ex: ex})
		signals.Evidence = append(signals.Evidence, ev)
	}

	if len(hits) == 0 {
		return signals
	}

	best := 0
	tied := false
	for i := 1; i < len(hits); i++ {
		switch {
		case hits[i].evidence.Strength > hits[best].evidence.Strength:
			best, tied = i, false
		case hits[i].evidence.Strength == hits[best].evidence.Strength:
			tied = true
		}
	}
	if tied {
		kinds := make([]string, 0, len(hits))
		for _, h := range hits {
			if h.evidence.Strength == hits[best].evidence.Strength {
				kinds = append(kinds, string(h.det.kind))
			}
		}
		signals.Warnings = append(signals.Warnings,
			fmt.Sprintf("document kind ambiguous between %s", strings.Join(kinds, ", ")))
		return signals
	}

	win := hits[best]
	signals.Kind = win.det.kind
	signals.Confidence = confidence(win.evidence)
	signals.Warnings = append(signals.Warnings, win.ex.warnings...)
	copyKindFields(&signals, win.det.kind, win.ex.signals)
	return signals
}

// matchKeywords picks the strongest keyword of d found in text.
func matchKeywords(d detector, text, header string) (models.DetectorEvidence, bool) {
	ev := models.DetectorEvidence{Kind: d.kind}
	found := false
	bestScore := -1
	for _, k := range d.keywords {
		if !k.pattern.MatchString(text) {
			continue
		}
		inHeader := k.pattern.MatchString(header)
		score := k.specificity
		if inHeader {
			score += headerBonus
		}
		if score > bestScore {
			bestScore = score
			ev.Keyword = k.term
			ev.Specificity = k.specificity
			ev.HeaderHit = inHeader
			found = true
		}
	}
	return ev, found
}

func confidence(ev models.DetectorEvidence) float64 {
	c := baseConfidence
	if ev.Specificity >= 3 {
		c += specificKeywordBonus
	}
	if ev.FieldsExpected > 0 {
		c += fieldsWeight * float64(ev.FieldsExtracted) / float64(ev.FieldsExpected)
	}
	if c > maxConfidence {
		c = maxConfidence
	}
	return round2(c)
}

// copyKindFields copies only the fields belonging to kind.
func copyKindFields(dst *models.DocumentSignals, kind models.DocumentKind, src models.DocumentSignals) {
	switch kind {
	case models.KindAB:
		dst.ABNumber = src.ABNumber
		dst.ConfirmedDeliveryDate = src.ConfirmedDeliveryDate
	case models.KindSupplierDeliveryNote:
		dst.DeliveryNoteNumber = src.DeliveryNoteNumber
		dst.DeliveryDate = src.DeliveryDate
	case models.KindSupplierInvoice:
		dst.InvoiceNumber = src.InvoiceNumber
		dst.InvoiceDate = src.InvoiceDate
		dst.DueDate = src.DueDate
		dst.NetAmount = src.NetAmount
		dst.TaxRate = src.TaxRate
	}
}
