package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/leodurandfr/milo/internal/models"
)

// WriteRoutingEnv atomically writes the two-line key=value file the ALSA
// resolver consumes, using the same temp+rename discipline as settings.json.
func WriteRoutingEnv(dir string, r models.RoutingState) error {
	eq := ""
	if r.Equalizer {
		eq = "_eq"
	}
	content := fmt.Sprintf("MILO_MODE=%s\nMILO_EQUALIZER=%s\n", r.Mode, eq)

	path := filepath.Join(dir, "routing.env")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
