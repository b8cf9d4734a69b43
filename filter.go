// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"fmt"

	"github.com/woozymasta/pathrules"
)

// ruleMatcher holds compiled ordered path rules.
type ruleMatcher struct {
	matcher *pathrules.Matcher
}

// newRuleMatcher compiles path rules; an empty rule set yields a nil matcher.
// Compile errors are wrapped with sentinel.
func newRuleMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions, sentinel error) (*ruleMatcher, error) {
	rules = normalizeRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, matcherDefaults(opts))
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", sentinel, err)
	}

	return &ruleMatcher{matcher: matcher}, nil
}

// normalizeRules normalizes rule patterns and drops empty patterns.
func normalizeRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether path is included by the rules. A nil matcher matches nothing.
func (m *ruleMatcher) Match(path string) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := NormalizePath(path)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}

// filterFiles keeps files included by m; a nil matcher keeps everything.
func filterFiles(files []FileInfo, m *ruleMatcher) []FileInfo {
	if m == nil {
		return files
	}

	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		if m.Match(f.Path) {
			out = append(out, f)
		}
	}

	return out
}

// FilterFiles keeps files included by rules; an empty rule set keeps everything.
func FilterFiles(files []FileInfo, rules []pathrules.Rule, opts pathrules.MatcherOptions) ([]FileInfo, error) {
	m, err := newRuleMatcher(rules, opts, ErrInvalidFilterPattern)
	if err != nil {
		return nil, err
	}

	return filterFiles(files, m), nil
}
