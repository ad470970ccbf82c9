package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ScenarioNotFoundError is returned when a named scenario path does not
// exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q does not exist", e.Path)
}

// FindScenarios expands paths into scenario files: files are kept as given,
// directories contribute their *.yaml and *.yml files in name order.
func FindScenarios(paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{Path: p}
		}
		if err != nil {
			return nil, fmt.Errorf("stat scenario path: %w", err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		var found []string
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			found = append(found, matches...)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}
