package ipparser

import (
	"errors"
	"strings"
	"testing"
)

// FuzzEncode checks that Encode never panics and that every accepted address
// round-trips through Decode.
func FuzzEncode(f *testing.F) {
	seeds := []string{
		"127.0.0.1",
		"127.0.0.2",
		"0.0.0.0",
		"255.255.255.255",
		"999.999.999.999",
		"",
		".",
		"...",
		"....",
		"1.2.3",
		"1.2.3.4.5",
		"1.2.3.4/../../etc/passwd",
		"0x7f.0.0.1",
		"1.2.3.4\x00",
		"١.٢.٣.٤",
		"2001:db8::1",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		name, err := Encode(raw, testZone)
		if err != nil {
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("Encode(%q) returned non-FormatError: %v", raw, err)
			}
			if err.Error() == "" {
				t.Errorf("error has empty message")
			}
			return
		}

		if !strings.HasSuffix(name, "."+testZone) {
			t.Fatalf("Encode(%q) = %q, missing zone suffix", raw, name)
		}
		if got := strings.Count(name, "."); got != 3+strings.Count(testZone, ".")+1 {
			t.Fatalf("Encode(%q) = %q, unexpected label count", raw, name)
		}

		back, err := Decode(name, testZone)
		if err != nil {
			t.Fatalf("Decode(Encode(%q)) failed: %v", raw, err)
		}
		if back != raw {
			t.Fatalf("round trip mismatch: %q -> %q -> %q", raw, name, back)
		}
	})
}
