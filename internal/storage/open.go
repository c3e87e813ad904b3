package storage

import (
	"errors"
	"strings"

	logx "toolbox/pkg/logx"
)

// Open initializes the configured backend.
// Driver "none" returns ErrDisabled; an empty driver means "memory".
func Open(cfg Config, log logx.Logger) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "none":
		return nil, ErrDisabled
	case "", "memory", "mem":
		log.Warn("storage is memory-only; records are lost on restart")
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
