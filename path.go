// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"fmt"
	"strings"
)

// NormalizePath converts a container path to slash-separated form.
// It accepts both "/" and "\", removes leading "./" and "/", and drops empty and "." segments.
// Names are case-sensitive and are not otherwise altered.
func NormalizePath(raw string) string {
	parts, err := splitContainerPath(raw)
	if err != nil {
		return ""
	}

	return strings.Join(parts, "/")
}

// splitContainerPath splits raw into name components and rejects traversal segments.
func splitContainerPath(raw string) ([]string, error) {
	raw = trimContainerPath(raw)
	if raw == "" || strings.ContainsRune(raw, 0) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}

	fields := strings.Split(raw, "/")
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		switch field {
		case "", ".":
			continue
		case "..":
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
		default:
			if len(field) > 0x7F {
				return nil, fmt.Errorf("%w: segment %q exceeds 127 bytes", ErrInvalidPath, field)
			}

			parts = append(parts, field)
		}
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}

	return parts, nil
}

// trimContainerPath converts separators and strips leading "./" and "/".
func trimContainerPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `/`)
	for {
		switch {
		case strings.HasPrefix(path, "./"):
			path = path[2:]
		case strings.HasPrefix(path, "/"):
			path = path[1:]
		default:
			return path
		}
	}
}

// normalizePathForMatching normalizes user rule patterns for matcher use.
// A leading "/" is kept so anchored patterns stay anchored.
func normalizePathForMatching(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, `\`, `/`)
	path = strings.TrimPrefix(path, "./")
	return path
}

// joinContainerPath joins a directory path and a name.
func joinContainerPath(dir string, name string) string {
	if dir == "" {
		return name
	}

	return dir + "/" + name
}
