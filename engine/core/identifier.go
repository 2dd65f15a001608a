package core

import (
	"fmt"

	"github.com/google/uuid"
)

// DebugName produces a unique, human-taggable name for a GPU resource so
// validation-layer messages and logs can be tied back to the owning object.
func DebugName(kind string) string {
	return fmt.Sprintf("%s-%s", kind, uuid.New().String())
}
