package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mentormodule/models"
	"mentormodule/pkg/rolegate"
)

var roleDescriptions = map[string]string{
	rolegate.RoleFaculty:            "teaching staff, mentors students",
	rolegate.RoleHOD:                "head of department",
	rolegate.RolePrincipal:          "head of institution",
	rolegate.RoleAdministrator:      "full access",
	rolegate.RoleDigitalCoordinator: "manages digital records",
	rolegate.RoleSuperAdmin:         "full access across institutions",
	rolegate.RoleStudent:            "not admitted",
	rolegate.RoleParent:             "not admitted",
	rolegate.RoleGuest:              "not admitted",
}

func initDB(cfg DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres database: %w", err)
	}
	if cfg.AutoMigrate {
		migrate(db, log)
	}
	return db, nil
}

// migrate runs AutoMigrate per model so a failure on one doesn't block others.
// Permission errors are logged and ignored.
func migrate(db *gorm.DB, log *slog.Logger) {
	steps := []struct {
		table string
		model any
	}{
		{"roles", &models.Role{}},
		{"users", &models.User{}},
		{"sessions", &models.Session{}},
		{"mentors", &models.Mentor{}},
		{"mentor_students", &models.MentorStudent{}},
		{"counseling_sessions", &models.CounselingSession{}},
		{"counseling_feedbacks", &models.CounselingFeedback{}},
		{"avatar_uploads", &models.AvatarUpload{}},
	}
	for _, s := range steps {
		if err := db.AutoMigrate(s.model); err != nil {
			log.Warn("migration warning", "table", s.table, "error", err)
		}
	}
}

// seedRoles mirrors the gate's view of every known role into the roles table.
func seedRoles(db *gorm.DB, gate *rolegate.Gate) error {
	for name, desc := range roleDescriptions {
		route, _ := gate.DefaultRoute(name)
		r := models.Role{Name: name, Description: desc, DefaultRoute: route, Allowed: gate.IsAllowed(name)}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "default_route", "allowed", "updated_at"}),
		}).Create(&r).Error
		if err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	return nil
}

// ensureUploadBase creates the base uploads directory.
func ensureUploadBase(base string, log *slog.Logger) {
	if err := os.MkdirAll(base, 0755); err != nil {
		log.Warn("failed to create upload base dir", "dir", base, "error", err)
	}
}

// isUniqueConstraintError reports a Postgres unique violation (SQLSTATE 23505).
func isUniqueConstraintError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
