// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"fmt"
	"hash/fnv"
	"path"
	"strconv"
	"strings"
	"unicode"
)

// maxSanitizedSegmentLen limits one host path segment.
const maxSanitizedSegmentLen = 240

// reservedDeviceNames are Windows device names that cannot be used as file names.
var reservedDeviceNames = func() map[string]struct{} {
	names := map[string]struct{}{"con": {}, "prn": {}, "aux": {}, "nul": {}, "clock$": {}}
	for i := 1; i <= 9; i++ {
		names["com"+strconv.Itoa(i)] = struct{}{}
		names["lpt"+strconv.Itoa(i)] = struct{}{}
	}

	return names
}()

// SanitizePath rewrites a container path to a host-safe slash-separated form.
// Container names are raw bytes and may carry characters hosts reject.
func SanitizePath(raw string) (string, error) {
	normalized := NormalizePath(raw)
	if normalized == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidExtractPath, raw)
	}

	segments := strings.Split(normalized, "/")
	for i, seg := range segments {
		segments[i] = sanitizeSegment(seg)
	}

	return strings.Join(segments, "/"), nil
}

// sanitizeSegment rewrites one name for broad filesystem compatibility.
func sanitizeSegment(seg string) string {
	var b strings.Builder
	b.Grow(len(seg))
	for _, r := range seg {
		switch {
		case r == unicode.ReplacementChar, unicode.IsControl(r), unicode.In(r, unicode.Cf):
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimRight(b.String(), ". ")
	if out == "" {
		out = "_"
	}

	stem := strings.ToLower(out)
	if dot := strings.IndexByte(stem, '.'); dot >= 0 {
		stem = stem[:dot]
	}

	if _, reserved := reservedDeviceNames[stem]; reserved {
		out = "_" + out
	}

	return shortenSegment(out, maxSanitizedSegmentLen)
}

// sanitizeFiles rewrites file paths to unique host-safe names.
// Case-insensitive hosts are assumed when checking collisions.
func sanitizeFiles(files []FileInfo) ([]FileInfo, error) {
	out := make([]FileInfo, len(files))
	used := make(map[string]struct{}, len(files))

	for i, f := range files {
		clean, err := SanitizePath(f.Path)
		if err != nil {
			return nil, err
		}

		unique, err := uniquePath(clean, used)
		if err != nil {
			return nil, fmt.Errorf("sanitize %s: %w", f.Path, err)
		}

		out[i] = f
		out[i].Path = unique
	}

	return out, nil
}

// uniquePath returns p or p with a "~N" suffix so that it is not in used.
func uniquePath(p string, used map[string]struct{}) (string, error) {
	key := strings.ToLower(p)
	if _, taken := used[key]; !taken {
		used[key] = struct{}{}
		return p, nil
	}

	dir, name := path.Split(p)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 2; n < 100000; n++ {
		suffix := "~" + strconv.Itoa(n)
		candidate := dir + shortenSegment(stem, maxSanitizedSegmentLen-len(ext)-len(suffix)) + suffix + ext
		key := strings.ToLower(candidate)
		if _, taken := used[key]; taken {
			continue
		}

		used[key] = struct{}{}
		return candidate, nil
	}

	return "", ErrInvalidExtractPath
}

// shortenSegment truncates value to maxLen keeping an fnv hash of the full name.
func shortenSegment(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}

	if maxLen <= 10 {
		return value[:max(maxLen, 1)]
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	hash := fmt.Sprintf("~%08x", h.Sum32())

	return value[:maxLen-len(hash)] + hash
}
