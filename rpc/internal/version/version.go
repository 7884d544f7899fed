// Package version parses and negotiates the protocol major.minor
// version carried on the wire.
package version

import (
	"strconv"
	"strings"
)

// ProtocolString is the version this build of the runtime emits.
// SupportedString lists the major versions it will accept.
const (
	ProtocolString  = "1.0"
	SupportedString = "1"
)

// Supported holds the parsed major versions from SupportedString.
var Supported = ParseSupported(SupportedString)

// ParseProtocol splits a "major.minor" version string. An empty
// string defaults to 1.0, matching peers that predate versioning.
// A malformed string returns major -1 so callers can distinguish it
// from a real, merely-unsupported version.
func ParseProtocol(v string) (major, minor int) {
	if v == "" {
		return 1, 0
	}

	parts := strings.Split(v, ".")
	if len(parts) != 2 {
		return -1, 0
	}

	var err error
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return -1, 0
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return -1, 0
	}
	return major, minor
}

// ParseSupported parses a space-separated list of supported major
// versions, as carried on the SupportedProtocolMajorVersion property.
func ParseSupported(vs string) []int {
	parts := strings.Split(vs, " ")
	if len(parts) == 0 {
		return nil
	}

	res := make([]int, len(parts))
	for i, part := range parts {
		var err error
		res[i], err = strconv.Atoi(part)
		if err != nil {
			return nil
		}
	}
	return res
}

// SerializeSupported renders a list of major versions back into the
// space-separated wire format ParseSupported accepts.
func SerializeSupported(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

// IsSupported reports whether v's major version is one this build
// accepts.
func IsSupported(v string) bool {
	major, _ := ParseProtocol(v)
	for _, s := range Supported {
		if major == s {
			return true
		}
	}
	return false
}
