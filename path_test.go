// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "slash", in: "/", want: ""},
		{name: "clean", in: "data/msg/en.bin", want: "data/msg/en.bin"},
		{name: "windows", in: `.\data\msg\en.bin\`, want: "data/msg/en.bin"},
		{name: "dot segments", in: "./a/./b//c.bin", want: "a/b/c.bin"},
		{name: "traversal", in: "a/../b.bin", want: ""},
		{name: "case kept", in: "Data/EN.bin", want: "Data/EN.bin"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := NormalizePath(tc.in); got != tc.want {
				t.Fatalf("NormalizePath(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSplitContainerPath(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		got, err := splitContainerPath(`/a\b/c.bin`)
		if err != nil {
			t.Fatalf("splitContainerPath: %v", err)
		}

		if strings.Join(got, "|") != "a|b|c.bin" {
			t.Fatalf("splitContainerPath=%q, want [a b c.bin]", got)
		}
	})

	for _, in := range []string{"", "/", "..", "a/\x00b", strings.Repeat("n", 0x80)} {
		t.Run("invalid "+in, func(t *testing.T) {
			t.Parallel()

			if _, err := splitContainerPath(in); !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("splitContainerPath(%q) err=%v, want ErrInvalidPath", in, err)
			}
		})
	}
}

func TestJoinContainerPath(t *testing.T) {
	t.Parallel()

	if got := joinContainerPath("", "a.bin"); got != "a.bin" {
		t.Fatalf("joinContainerPath(root)=%q, want a.bin", got)
	}

	if got := joinContainerPath("data/msg", "a.bin"); got != "data/msg/a.bin" {
		t.Fatalf("joinContainerPath=%q, want data/msg/a.bin", got)
	}
}
