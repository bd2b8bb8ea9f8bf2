// Package ipparser converts IPv4 addresses into DNSBL query names and back.
//
// A DNSBL is queried with the address octets in reverse order prepended to
// the blocklist zone, e.g. 127.0.0.2 against zen.spamhaus.org becomes
// 2.0.0.127.zen.spamhaus.org.
package ipparser

import (
	"fmt"
	"strings"
)

// FormatError reports an address that is not four dot-separated numeric
// segments.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("incorrect format for IPv4 address %q: %s", e.Input, e.Reason)
}

// Encode returns the reversed-octet query name for raw under zone.
//
// Octets must be numeric but are not range checked, so "999.1.1.1" is
// accepted and queried as-is.
func Encode(raw, zone string) (string, error) {
	octets, err := split(raw)
	if err != nil {
		return "", err
	}
	reverse(octets)

	name := strings.Join(octets, ".")
	zone = strings.Trim(zone, ".")
	if zone == "" {
		return name, nil
	}
	return name + "." + zone, nil
}

// Decode is the inverse of Encode. name may be fully qualified and is matched
// against zone case-insensitively.
func Decode(name, zone string) (string, error) {
	normalizedName := strings.ToLower(strings.TrimSuffix(name, "."))
	suffix := "." + strings.ToLower(strings.Trim(zone, "."))

	prefix := strings.TrimSuffix(normalizedName, suffix)
	if len(prefix) == len(normalizedName) || len(prefix) == 0 {
		return "", &FormatError{Input: name, Reason: "not under zone " + zone}
	}

	octets, err := split(prefix)
	if err != nil {
		return "", &FormatError{Input: name, Reason: err.(*FormatError).Reason}
	}
	reverse(octets)
	return strings.Join(octets, "."), nil
}

func split(raw string) ([]string, error) {
	segments := strings.Split(raw, ".")
	if len(segments) != 4 {
		return nil, &FormatError{Input: raw, Reason: fmt.Sprintf("expected 4 segments, got %d", len(segments))}
	}
	for _, s := range segments {
		if !isNumeric(s) {
			return nil, &FormatError{Input: raw, Reason: fmt.Sprintf("segment %q is not numeric", s)}
		}
	}
	return segments, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
