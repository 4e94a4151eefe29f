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

// Package match scores open supplier orders against classified document
// signals and decides whether a document can be preassigned.
package match

import (
	"math"
	"sort"
	"strings"

	"github.com/crmworks/docinbox/internal/models"
)

// MaxCandidates is how many ranked candidates a decision keeps.
const MaxCandidates = 5

// Config holds the tunable thresholds.
type Config struct {
	PreassignThreshold float64
	AmbiguityMargin    float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PreassignThreshold: 0.9,
		AmbiguityMargin:    0.05,
	}
}

// Input is everything the matcher looks at for one document.
type Input struct {
	Signals        models.DocumentSignals
	SenderEmail    string
	SearchableText string
	Candidates     []models.CandidateRecord
}

// Matcher ranks candidates with a fixed rule table.
type Matcher struct {
	cfg Config
}

// New creates a Matcher. A non-positive threshold or a negative margin
// falls back to DefaultConfig.
func New(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.PreassignThreshold <= 0 {
		cfg.PreassignThreshold = def.PreassignThreshold
	}
	if cfg.AmbiguityMargin < 0 {
		cfg.AmbiguityMargin = def.AmbiguityMargin
	}
	return &Matcher{cfg: cfg}
}

type ranked struct {
	scored models.ScoredCandidate
	raw    float64
}

// Decide scores every candidate and returns the assignment decision.
func (m *Matcher) Decide(in Input) models.AssignmentDecision {
	facts := newFacts(in)

	var all []ranked
	for _, c := range in.Candidates {
		raw, reasons := m.score(facts, c)
		if len(reasons) == 0 {
			continue
		}
		all = append(all, ranked{
			scored: models.ScoredCandidate{
				CandidateRecord: c,
				Score:           reported(raw),
				Reasons:         reasons,
			},
			raw: raw,
		})
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.raw != b.raw {
			return a.raw > b.raw
		}
		if a.scored.OrderNumber != b.scored.OrderNumber {
			return a.scored.OrderNumber < b.scored.OrderNumber
		}
		return a.scored.OrderID < b.scored.OrderID
	})

	decision := models.AssignmentDecision{
		Status:     models.StatusNeedsReview,
		Reasons:    []string{},
		Candidates: make([]models.ScoredCandidate, 0, MaxCandidates),
	}
	for i := 0; i < len(all) && i < MaxCandidates; i++ {
		decision.Candidates = append(decision.Candidates, all[i].scored)
	}
	if len(all) == 0 {
		decision.Reasons = append(decision.Reasons, "no candidate matched any rule")
		return decision
	}

	best := all[0]
	decision.Confidence = best.scored.Score
	decision.Reasons = append(decision.Reasons, best.scored.Reasons...)

	switch {
	case in.Signals.Kind == models.KindUnknown || !in.Signals.Kind.Valid():
		decision.Reasons = append(decision.Reasons, "document kind unknown")
	case best.scored.Score < m.cfg.PreassignThreshold:
		decision.Reasons = append(decision.Reasons, "score below preassign threshold")
	case len(all) > 1 && best.raw-all[1].raw < m.cfg.AmbiguityMargin:
		decision.Reasons = append(decision.Reasons, "runner-up candidate too close")
	default:
		decision.Status = models.StatusPreassigned
		decision.AssignedSupplierOrderID = best.scored.OrderID
		decision.AssignedProjectID = best.scored.ProjectID
	}
	return decision
}

func (m *Matcher) score(f facts, c models.CandidateRecord) (float64, []string) {
	var (
		sum     float64
		reasons []string
		fired   = make(map[string]bool, len(rules))
	)
	for _, r := range rules {
		if r.unless != "" && fired[r.unless] {
			continue
		}
		if !r.match(f, c) {
			continue
		}
		fired[r.name] = true
		sum += r.weight
		reasons = append(reasons, r.reason)
	}
	if len(reasons) == 0 {
		return 0, nil
	}
	return models.ClampConfidence(f.confidence) + sum, reasons
}

func reported(raw float64) float64 {
	return math.Round(models.ClampConfidence(raw)*10000) / 10000
}

// facts is the per-document view the rules read; built once per Decide.
type facts struct {
	confidence   float64
	orders       map[string]bool
	projects     map[string]bool
	senderEmail  string
	senderDomain string
	text         string
}

func newFacts(in Input) facts {
	f := facts{
		confidence:  in.Signals.Confidence,
		orders:      lowerSet(in.Signals.OrderNumbers),
		projects:    lowerSet(in.Signals.ProjectOrderNumbers),
		senderEmail: normalizeEmail(in.SenderEmail),
		text:        strings.ToLower(in.SearchableText),
	}
	f.senderDomain = emailDomain(f.senderEmail)
	return f
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = true
		}
	}
	return set
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func emailDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return domain
}
