package merge

import (
	"fmt"
	"os"
)

// cleanup removes a staged package. Callers only invoke it once every
// candidate of the package is merged or rejected.
func (e *Engine) cleanup(pkg Package) error {
	if err := os.RemoveAll(pkg.Dir); err != nil {
		return fmt.Errorf("remove package %s: %w", pkg.Name, err)
	}
	e.log.Info("removed staged package", "package", pkg.Name, "path", pkg.Dir)
	return nil
}
