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

package normalize

import (
	"html"
	"strings"
)

// stripHTML reduces an HTML body to plain text lines.
func stripHTML(s string) string {
	// Block-level closers become line breaks so labelled values stay on
	// their own line for the classifier.
	s = blockBreaks.Replace(s)

	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	lines := strings.Split(html.UnescapeString(b.String()), "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

var blockBreaks = strings.NewReplacer(
	"<br>", "\n<br>", "<br/>", "\n<br/>", "<br />", "\n<br />",
	"<BR>", "\n<BR>", "</p>", "</p>\n", "</P>", "</P>\n",
	"</div>", "</div>\n", "</tr>", "</tr>\n", "</li>", "</li>\n",
)
