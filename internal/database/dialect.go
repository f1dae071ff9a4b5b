package database

import "fmt"

// DialectHelper provides dialect-specific SQL helpers
type DialectHelper struct {
	dialect Dialect
}

// NewDialectHelper creates a new dialect helper
func NewDialectHelper(dialect Dialect) *DialectHelper {
	return &DialectHelper{dialect: dialect}
}

// Placeholder returns the placeholder for the nth parameter (1-indexed)
func (h *DialectHelper) Placeholder(n int) string {
	switch h.dialect {
	case DialectPostgreSQL:
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

// CurrentTimestamp returns the current timestamp function for the dialect
func (h *DialectHelper) CurrentTimestamp() string {
	switch h.dialect {
	case DialectPostgreSQL:
		return "NOW()"
	default:
		return "CURRENT_TIMESTAMP"
	}
}

// InsertIgnore returns the conflict clause that drops a duplicate-key insert.
// Both dialects accept the standard ON CONFLICT form.
func (h *DialectHelper) InsertIgnore(conflictTarget string) string {
	return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", conflictTarget)
}

// Upsert returns the ON CONFLICT clause for an insert-or-update
func (h *DialectHelper) Upsert(conflictTarget string, updateCols []string) string {
	updates := ""
	for i, col := range updateCols {
		if i > 0 {
			updates += ", "
		}
		updates += fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", conflictTarget, updates)
}

// LimitOffset returns the LIMIT/OFFSET clause for pagination
func (h *DialectHelper) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

// TableExistsQuery returns a query to check if a table exists
func (h *DialectHelper) TableExistsQuery(table string) string {
	switch h.dialect {
	case DialectPostgreSQL:
		return fmt.Sprintf(`
			SELECT COUNT(*) FROM information_schema.tables
			WHERE table_name = '%s'
		`, table)
	default:
		return fmt.Sprintf(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='%s'`,
			table,
		)
	}
}

// ConvertQuery converts a query with ? placeholders to dialect-specific format
func (h *DialectHelper) ConvertQuery(query string) string {
	return ConvertPlaceholders(query, h.dialect)
}
