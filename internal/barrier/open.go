package barrier

import (
	"fmt"
	"path/filepath"

	"github.com/compresr/apibouncer/internal/config"
)

// Open returns the queue selected by cfg.Backend inside dataDir.
func Open(cfg config.BarrierConfig, dataDir string, opts ...Option) (Queue, error) {
	switch cfg.Backend {
	case "", config.BarrierBackendFile:
		return NewFileQueue(filepath.Join(dataDir, config.BarrierQueueFileName), opts...)
	case config.BarrierBackendSQLite:
		return NewSQLiteQueue(filepath.Join(dataDir, config.BarrierDBFileName), opts...)
	default:
		return nil, fmt.Errorf("unknown barrier backend %q", cfg.Backend)
	}
}
