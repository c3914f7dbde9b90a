package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterTablesDropsInvalidNames(t *testing.T) {
	got := FilterTables(" sessions, users;drop ,,mentor_students,1bad ")
	assert.Equal(t, []string{"sessions", "mentor_students"}, got)
}

func TestTruncateStatementQuotes(t *testing.T) {
	assert.Equal(t,
		`TRUNCATE TABLE "sessions", "users" RESTART IDENTITY CASCADE`,
		TruncateStatement([]string{"sessions", "users"}))
}

func TestDefaultTablesAreValid(t *testing.T) {
	assert.Len(t, FilterTables(DefaultTables), 8)
}
