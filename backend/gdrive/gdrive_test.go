// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package gdrive

import "testing"

func TestNewReaderRoundTripsBytes(t *testing.T) {
	data := []byte("payload")
	r := newReader(data)
	buf := make([]byte, len(data))
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(data) || string(buf) != string(data) {
		t.Errorf("Read = %q (n=%d), want %q", buf, n, data)
	}
}
