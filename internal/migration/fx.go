package migration

import (
	auditdomain "github.com/smallbiznis/dojopay/internal/audit/domain"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the embedded SQL migrations on postgres. Other dialects, used
// for local runs, get the schema from the gorm models.
func Apply(conn *gorm.DB, log *zap.Logger) error {
	if conn.Dialector.Name() != "postgres" {
		log.Info("migration.automigrate", zap.String("dialect", conn.Dialector.Name()))
		return conn.AutoMigrate(append(domain.Models(), &auditdomain.AuditLog{})...)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migration.applied", zap.String("dialect", "postgres"))
	return nil
}
