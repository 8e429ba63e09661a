package protocol

import "testing"

func TestContentChecksum(t *testing.T) {
	if got := ContentChecksum([]byte("hello")); got == 0 {
		t.Error("ContentChecksum() = 0, want non-zero")
	}

	// Position-weighted: transpositions must change the sum.
	ab := ContentChecksum([]byte("ab"))
	ba := ContentChecksum([]byte("ba"))
	if ab == ba {
		t.Errorf("ContentChecksum(ab) == ContentChecksum(ba) = %d", ab)
	}

	// Deterministic.
	if ContentChecksum([]byte("hello")) != ContentChecksum([]byte("hello")) {
		t.Error("ContentChecksum() not deterministic")
	}

	// Empty text still produces a usable checksum.
	if got := ContentChecksum(nil); got != 1 {
		t.Errorf("ContentChecksum(nil) = %d, want 1", got)
	}

	// Known value: "ab" = 'a'*1 + 'b'*2 = 97 + 196 = 293.
	if ab != 293 {
		t.Errorf("ContentChecksum(ab) = %d, want 293", ab)
	}
}
