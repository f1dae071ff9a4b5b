package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pwviptbl/AI-English-Mentor/internal/database"
	_ "modernc.org/sqlite"
)

var (
	srcType   = flag.String("src-type", "sqlite", "Source database type: sqlite or postgresql")
	srcURL    = flag.String("src-url", ".config/mentor.db", "Source database connection string")
	dstType   = flag.String("dst-type", "postgresql", "Destination database type: sqlite or postgresql")
	dstURL    = flag.String("dst-url", "", "Destination database connection string")
	dryRun    = flag.Bool("dry-run", false, "Print SQL without executing")
	tablesArg = flag.String("tables", "", "Comma-separated list of tables to copy (empty = all)")
)

// Copy order respects foreign key constraints: messages reference
// conversations, conversations reference users.
var copyOrder = []string{
	"tier_limits",
	"users",
	"conversations",
	"messages",
	"analysis_cache",
}

// rowSink receives each source row for one table.
type rowSink func(table string, cols []string, values []interface{}) error

func main() {
	flag.Parse()

	if *dstURL == "" && !*dryRun {
		log.Fatal("--dst-url is required (or use --dry-run)")
	}

	srcDB, srcDialect, err := openDB(*srcType, *srcURL)
	if err != nil {
		log.Fatalf("Failed to open source database: %v", err)
	}
	defer srcDB.Close()

	tables := copyOrder
	if *tablesArg != "" {
		tables = strings.Split(*tablesArg, ",")
		for i, t := range tables {
			tables[i] = strings.TrimSpace(t)
		}
	}

	dstDialect := database.Dialect(*dstType)

	var sink rowSink
	if *dryRun {
		log.Println("=== DRY RUN MODE - SQL will be printed, not executed ===")
		sink = func(table string, cols []string, values []interface{}) error {
			fmt.Println(renderInsert(table, cols, values, dstDialect))
			return nil
		}
	} else {
		dstDB, dialect, err := openDB(*dstType, *dstURL)
		if err != nil {
			log.Fatalf("Failed to open destination database: %v", err)
		}
		defer dstDB.Close()
		dstDialect = dialect

		// Destination schema must exist before any data lands.
		wrapper, err := database.New(database.Config{Type: dstDialect, URL: *dstURL})
		if err != nil {
			log.Fatalf("Failed to wrap destination database: %v", err)
		}
		log.Println("Running schema migrations on destination database...")
		if err := database.RunMigrations(wrapper); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		sink = func(table string, cols []string, values []interface{}) error {
			return insertRow(dstDB, dstDialect, table, cols, values)
		}
	}

	for _, table := range tables {
		if err := copyTable(srcDB, srcDialect, table, sink); err != nil {
			log.Printf("Warning: Failed to copy table %s: %v", table, err)
		}
	}

	log.Println("Copy completed!")
}

func openDB(dbType, url string) (*sql.DB, database.Dialect, error) {
	var driver string
	dialect := database.Dialect(dbType)

	switch dialect {
	case database.DialectSQLite:
		driver = "sqlite"
		if !strings.Contains(url, "?") {
			url += "?_busy_timeout=5000"
		}
	case database.DialectPostgreSQL:
		driver = "postgres"
	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, "", err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

func copyTable(srcDB *sql.DB, srcDialect database.Dialect, table string, sink rowSink) error {
	exists, err := tableExistsRaw(srcDB, srcDialect, table)
	if err != nil {
		return err
	}
	if !exists {
		log.Printf("Skipping table %s (does not exist in source)", table)
		return nil
	}

	log.Printf("Copying table: %s", table)

	rows, err := srcDB.Query(fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	count := 0
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if err := sink(table, cols, values); err != nil {
			log.Printf("Warning: Failed to copy row into %s: %v", table, err)
			continue
		}
		count++
	}

	log.Printf("Copied %d rows from %s", count, table)
	return rows.Err()
}

func insertRow(db *sql.DB, dialect database.Dialect, table string, cols []string, values []interface{}) error {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)
	query = database.ConvertPlaceholders(query, dialect)

	_, err := db.Exec(query, values...)
	return err
}

func renderInsert(table string, cols []string, values []interface{}, dialect database.Dialect) string {
	rendered := make([]string, len(values))
	for i, v := range values {
		rendered[i] = renderValue(v, dialect)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING;",
		table,
		strings.Join(cols, ", "),
		strings.Join(rendered, ", "),
	)
}

func renderValue(v interface{}, dialect database.Dialect) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if dialect == database.DialectPostgreSQL {
			if val {
				return "TRUE"
			}
			return "FALSE"
		}
		if val {
			return "1"
		}
		return "0"
	case int, int64, float64:
		return fmt.Sprintf("%v", val)
	case time.Time:
		if dialect == database.DialectPostgreSQL {
			return fmt.Sprintf("'%s'", val.Format("2006-01-02 15:04:05.999999-07:00"))
		}
		return fmt.Sprintf("'%s'", val.Format("2006-01-02 15:04:05"))
	case []byte:
		// Mentor tables only store text and JSON in blob-typed columns
		return fmt.Sprintf("'%s'", escapeString(string(val)))
	case string:
		return fmt.Sprintf("'%s'", escapeString(val))
	default:
		return fmt.Sprintf("'%s'", escapeString(fmt.Sprintf("%v", v)))
	}
}

func escapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func tableExistsRaw(db *sql.DB, dialect database.Dialect, table string) (bool, error) {
	var query string
	switch dialect {
	case database.DialectSQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	case database.DialectPostgreSQL:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1"
	}

	var count int
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
