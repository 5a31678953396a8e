package catalog

import (
	"github.com/google/uuid"

	"github.com/graphlite/graphlite/pkg/types"
)

// graphNamespace roots the deterministic graph-path UUIDs (RFC 4122
// name-based generation, as exposed by google/uuid's NewSHA1).
var graphNamespace = uuid.MustParse("6f2b9e6e-6e0a-4c1a-8a6d-1a5e9a6b0c3a")

// deterministicUUID maps a "/schema/graph" path to a stable 128-bit
// identity, so the same path always resolves to the same storage.GraphID
// without an extra path-to-id indirection table.
func deterministicUUID(path string) types.GraphID {
	return uuid.NewSHA1(graphNamespace, []byte(path))
}
