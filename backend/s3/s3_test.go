// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s3

import "testing"

func TestHasNamespacePrefix(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"ss/abc123", true},
		{"t/release", true},
		{"abc123def456", false},
		{"", false},
	}
	for _, c := range cases {
		if got := hasNamespacePrefix(c.key); got != c.want {
			t.Errorf("hasNamespacePrefix(%q) = %v, want %v", c.key, got, c.want)
		}
	}
}
