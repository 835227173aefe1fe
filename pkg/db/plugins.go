package db

import (
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

// statsRefreshSeconds is how often pool statistics are copied into gauges.
const statsRefreshSeconds = 15

// Instrument traces every statement and exports pool statistics to the
// default Prometheus registry.
func Instrument(conn *gorm.DB, dbName string) error {
	if err := conn.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(dbName),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return err
	}
	return conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          dbName,
		RefreshInterval: statsRefreshSeconds,
		Labels:          map[string]string{},
	}))
}
