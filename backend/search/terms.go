// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package search

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/efchatnet/eftrust/backend/models"
)

var separators = regexp.MustCompile(`[\s\-_.]+`)

// Terms returns the normalized, deduplicated terms of md in order of
// first appearance.
func Terms(md models.SearchableMetadata, maxContentTokens int) []string {
	c := newCollector()

	name := strings.TrimSuffix(md.FileName, filepath.Ext(md.FileName))
	c.add(separators.Split(name, -1)...)
	c.add(md.Tags...)
	c.add(strings.Fields(md.Description)...)

	content := strings.Fields(md.Content)
	if maxContentTokens > 0 && len(content) > maxContentTokens {
		content = content[:maxContentTokens]
	}
	c.add(content...)

	return c.terms
}

// QueryTerms splits a query the way file names are split.
func QueryTerms(query string) []string {
	c := newCollector()
	c.add(separators.Split(strings.TrimSpace(query), -1)...)
	return c.terms
}

type collector struct {
	seen  map[string]struct{}
	terms []string
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

func (c *collector) add(raw ...string) {
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if utf8.RuneCountInString(t) < MinSearchLength {
			continue
		}
		if _, ok := c.seen[t]; ok {
			continue
		}
		c.seen[t] = struct{}{}
		c.terms = append(c.terms, t)
	}
}

// Ngrams returns the character n-grams of term. Terms shorter than n are
// returned whole.
func Ngrams(term string, n int) []string {
	runes := []rune(term)
	if len(runes) <= n {
		return []string{term}
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}
