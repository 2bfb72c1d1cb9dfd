package history

import (
	"fmt"
	"path/filepath"

	"hoard-go/internal/config"
	"hoard-go/internal/hoard"
)

// NewHistoryFromConfig creates a History implementation based on the history config type.
func NewHistoryFromConfig(cfg config.HistoryConfig, clock hoard.Clock) (hoard.History, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		return NewSQLiteHistory(filepath.Join(cfg.DataDir, "history.db"), clock)
	case "memory":
		return NewSQLiteHistory(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}
