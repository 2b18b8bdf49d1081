package core

import (
	"maps"

	"github.com/mohae/deepcopy"
)

// CloneMap returns a deep copy of m. A nil map yields an empty map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	copied, ok := deepcopy.Copy(m).(map[string]any)
	if !ok {
		return maps.Clone(m)
	}
	return copied
}
