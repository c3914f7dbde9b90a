package report

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"mentormodule/models"
)

func mustDBFromEnv() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN not set in env")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	return gdb
}

// MonthBounds returns [start, end) in UTC for a YYYY-MM month.
func MonthBounds(month string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month format, expected YYYY-MM: %w", err)
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

// RunReport prints the counseling activity of the mentor whose user has externalID
// for one month, optionally listing the sessions.
func RunReport(externalID, month string, list bool) {
	gdb := mustDBFromEnv()

	var user models.User
	if err := gdb.Where("external_id = ?", externalID).First(&user).Error; err != nil {
		log.Fatalf("user not found: %v", err)
	}
	var mentor models.Mentor
	if err := gdb.Where("user_id = ?", user.ID).First(&mentor).Error; err != nil {
		log.Fatalf("user %s has no mentor record: %v", externalID, err)
	}
	start, end, err := MonthBounds(month)
	if err != nil {
		log.Fatal(err)
	}

	var cnt, completed int64
	if err := gdb.Raw(`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = ?) FROM counseling_sessions WHERE mentor_id = ? AND scheduled_at >= ? AND scheduled_at < ?`,
		models.CounselingCompleted, mentor.ID, start, end).Row().Scan(&cnt, &completed); err != nil {
		log.Fatalf("query failed: %v", err)
	}
	var avg sql.NullFloat64
	if err := gdb.Raw(`SELECT AVG(f.rating) FROM counseling_feedbacks f JOIN counseling_sessions s ON s.id = f.counseling_session_id WHERE s.mentor_id = ? AND s.scheduled_at >= ? AND s.scheduled_at < ?`,
		mentor.ID, start, end).Row().Scan(&avg); err != nil {
		log.Fatalf("query failed: %v", err)
	}

	fmt.Printf("Counseling report for %s (%s) month=%s (UTC):\n", user.FullName, user.ExternalID, month)
	fmt.Printf("  students=%d sessions=%d completed=%d avg_rating=%.2f\n", mentor.TotalStudents, cnt, completed, avg.Float64)

	if list {
		var rows []models.CounselingSession
		if err := gdb.Where("mentor_id = ? AND scheduled_at >= ? AND scheduled_at < ?", mentor.ID, start, end).Order("scheduled_at").Find(&rows).Error; err != nil {
			log.Fatalf("fetch rows failed: %v", err)
		}
		for _, r := range rows {
			fmt.Printf("%d|%s|%s|%s|%s\n", r.ID, r.StudentID, r.Status, r.ScheduledAt.Format(time.RFC3339), r.Topic)
		}
	}
}
