package testutil

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"
)

var reGuid = regexp.MustCompile(`[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}`)

// GuidMapper rewrites every uuid in a piece of text to a stable
// placeholder.  Distinct uuids stay distinct: the first uuid seen maps to
// the first placeholder, the second to the next, and so on.  That keeps
// output comparable across runs while still letting a test notice when two
// values that should agree stop agreeing.
type GuidMapper struct {
	mu      sync.Mutex
	mapping map[string]string
}

func NewGuidMapper() *GuidMapper {
	return &GuidMapper{mapping: make(map[string]string)}
}

// ReplaceAll rewrites every uuid in str according to the mapper's running
// mapping, extending the mapping for uuids it has not seen before.
func (gm *GuidMapper) ReplaceAll(str string) string {
	return reGuid.ReplaceAllStringFunc(str, func(match string) string {
		if _, err := uuid.Parse(match); err != nil {
			return match
		}
		return gm.get(match)
	})
}

func (gm *GuidMapper) get(guid string) string {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if mapped, exists := gm.mapping[guid]; exists {
		return mapped
	}
	mapped := fmt.Sprintf("00000000-0000-0000-0000-%012d", len(gm.mapping)+1)
	gm.mapping[guid] = mapped
	return mapped
}
