package internal

import (
	"strings"

	"github.com/latticeforge/edgerpc/rpc/internal/constants"
)

// PropToMetadata strips the reserved "__"-prefixed properties out of
// a PUBLISH's user properties, leaving only application metadata.
func PropToMetadata(prop map[string]string) map[string]string {
	data := make(map[string]string, len(prop))
	for key, val := range prop {
		if !strings.HasPrefix(key, constants.Protocol) {
			data[key] = val
		}
	}
	return data
}
