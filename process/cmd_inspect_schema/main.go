package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// uniqueIndexes the API relies on for its 409 responses and token lookup.
var uniqueIndexes = []string{
	"idx_mentor_student",
	"idx_feedback_author",
	"idx_sessions_access_token_hash",
	"idx_users_external_id",
	"idx_mentors_user_id",
	"idx_roles_name",
}

func main() {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := printForeignKeys(db); err != nil {
		log.Fatal(err)
	}
	missing, err := missingUniqueIndexes(db)
	if err != nil {
		log.Fatal(err)
	}
	if len(missing) > 0 {
		fmt.Printf("missing unique indexes: %s\n", strings.Join(missing, ", "))
		fmt.Println("run the server with `migrate` to create them")
		os.Exit(1)
	}
	fmt.Println("all unique indexes present")
}

func printForeignKeys(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT
		  con.conname AS constraint_name,
		  rel.relname AS table_name,
		  confrel.relname AS referenced_table,
		  pg_get_constraintdef(con.oid) AS definition
		FROM pg_constraint con
		JOIN pg_class rel ON rel.oid = con.conrelid
		JOIN pg_class confrel ON confrel.oid = con.confrelid
		JOIN pg_namespace ns ON ns.oid = rel.relnamespace
		WHERE con.contype = 'f' AND ns.nspname = 'public'
		ORDER BY rel.relname, con.conname;
	`)
	if err != nil {
		return fmt.Errorf("query constraints: %w", err)
	}
	defer rows.Close()

	fmt.Println("Foreign keys:")
	for rows.Next() {
		var cname, table, reftable, def string
		if err := rows.Scan(&cname, &table, &reftable, &def); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		fmt.Printf("- %s: %s -> %s\n    def: %s\n", cname, table, reftable, def)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows err: %w", err)
	}
	return nil
}

func missingUniqueIndexes(db *sql.DB) ([]string, error) {
	present := map[string]bool{}
	rows, err := db.Query(`SELECT indexname FROM pg_indexes WHERE schemaname = 'public' AND indexdef LIKE 'CREATE UNIQUE INDEX%'`)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	var missing []string
	for _, name := range uniqueIndexes {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
