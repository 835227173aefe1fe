package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	eventdomain "github.com/smallbiznis/referrals/internal/eventlog/domain"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table owned by the service in dependency order.
func Models() []any {
	return []any{
		&codedomain.ReferralCode{},
		&restaurantdomain.Restaurant{},
		&referraldomain.Referral{},
		&rewarddomain.Reward{},
		&eventdomain.PipelineEvent{},
	}
}

// AutoMigrate creates the schema from the gorm models for the mysql and
// sqlite dialects, which the SQL migrations do not target. On sqlite existing
// tables are left alone: its migrator cannot re-read the DDL it generated for
// sized numeric columns.
func AutoMigrate(conn *gorm.DB) error {
	migrator := conn.Migrator()
	for _, model := range Models() {
		if conn.Dialector.Name() == "sqlite" && migrator.HasTable(model) {
			continue
		}
		if err := conn.AutoMigrate(model); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}
	return nil
}
