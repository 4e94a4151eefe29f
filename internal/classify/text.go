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
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var umlautFolder = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
	"ß", "ss",
)

// fold transliterates German umlauts so patterns can stay ASCII.
func fold(s string) string {
	return umlautFolder.Replace(s)
}

const dateToken = `(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}\.\s?\d{1,2}\.\s?\d{2,4})`

// normalizeDate converts a captured date token to YYYY-MM-DD.
func normalizeDate(raw string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")

	var layout string
	switch {
	case strings.Contains(s, "-"):
		layout = "2006-1-2"
	case len(s)-strings.LastIndex(s, ".")-1 == 2:
		layout = "2.1.06"
	default:
		layout = "2.1.2006"
	}

	t, err := time.Parse(layout, s)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t.Format("2006-01-02"), nil
}

// labeledDate finds the first date following one of the labels in pattern.
// found is false when no label with a date token exists; err is set when a
// token was found but is not a real calendar date.
func labeledDate(text string, pattern *regexp.Regexp) (date string, found bool, err error) {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false, nil
	}
	date, err = normalizeDate(m[1])
	return date, true, err
}

// parseAmount reads a money amount written with either German (1.234,56)
// or English (1,234.56) separators.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.NewReplacer(" ", "", "'", "", "\u00a0", "").Replace(strings.TrimSpace(raw))

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	decimalSep := byte(0)
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimalSep = '.'
		} else {
			decimalSep = ','
		}
	case lastComma >= 0:
		if len(s)-lastComma-1 != 3 {
			decimalSep = ','
		}
	case lastDot >= 0:
		if len(s)-lastDot-1 != 3 {
			decimalSep = '.'
		}
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimalSep && i == strings.LastIndexByte(s, decimalSep):
			b.WriteByte('.')
		}
	}

	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

// dedupeUpper upper-cases values and drops repeats, keeping first-seen order.
func dedupeUpper(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.Trim(strings.TrimSpace(v), "-/"))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// firstBusinessToken returns the first captured value that looks like a
// document number rather than a word.
func firstBusinessToken(text string, pattern *regexp.Regexp) string {
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		v := strings.Trim(m[1], "-/")
		if len(v) >= 3 && hasDigit(v) {
			return strings.ToUpper(v)
		}
	}
	return ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
