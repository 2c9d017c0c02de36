package validator

import (
	"fmt"
	"strings"
)

// MaxPathDepth bounds the number of segments in a field path.
const MaxPathDepth = 16

// PathManager handles dot-separated field paths such as "suspension.front.spring_rate"
type PathManager struct{}

// NewPathManager creates a new path manager instance
func NewPathManager() *PathManager {
	return &PathManager{}
}

// JoinPath builds a path from its components
func (pm *PathManager) JoinPath(components ...string) string {
	return strings.Join(components, ".")
}

// GetPathDepth returns the number of segments in a path
func (pm *PathManager) GetPathDepth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, ".") + 1
}

// GetPathComponents splits a path into its components
func (pm *PathManager) GetPathComponents(path string) []string {
	if path == "" {
		return []string{}
	}
	return strings.Split(path, ".")
}

// ValidatePath checks that a path has no empty segments and is not too deep
func (pm *PathManager) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if depth := pm.GetPathDepth(path); depth > MaxPathDepth {
		return fmt.Errorf("path has %d segments, maximum is %d", depth, MaxPathDepth)
	}
	for i, component := range pm.GetPathComponents(path) {
		if strings.TrimSpace(component) == "" {
			return fmt.Errorf("path component %d is empty", i)
		}
	}
	return nil
}
