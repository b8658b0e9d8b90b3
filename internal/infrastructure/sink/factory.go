package sink

import (
	"fmt"

	"rangescan/internal/core/ranges"
	"rangescan/internal/infrastructure/storage/postgres"
)

// Backend names accepted in configuration.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config selects and configures the result sink.
type Config struct {
	Backend     string
	Directory   string
	Compress    bool
	TablePrefix string
}

// New builds the configured sink. txm is only used by the postgres backend.
func New(cfg Config, txm *postgres.TxManager) (ranges.Sink, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return NewFileSink(cfg.Directory, cfg.Compress)
	case BackendPostgres:
		if txm == nil {
			return nil, fmt.Errorf("postgres sink needs a database connection")
		}
		return postgres.NewResultSink(txm, cfg.TablePrefix), nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}
