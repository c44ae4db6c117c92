package analytics

import (
	"fmt"

	"github.com/catstream/edge-metrics-go/internal/config"
)

// Open 按配置选择后端
func Open(cfg *config.AnalyticsConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.DriverPostgres:
		return OpenPostgres(cfg.PostgresURL)
	case config.DriverNone:
		return Disabled(), nil
	default:
		return nil, fmt.Errorf("unsupported analytics driver %q", cfg.Driver)
	}
}
