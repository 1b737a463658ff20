package postgres

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/jackc/pgx/v5"
)

// ident splits an optionally schema-qualified name into a pgx.Identifier.
func ident(name string) pgx.Identifier {
	return pgx.Identifier(strings.Split(name, "."))
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sqlType(t models.LogicalType) string {
	switch t {
	case models.TypeInt64:
		return "BIGINT"
	case models.TypeDate:
		return "DATE"
	case models.TypeBool:
		return "BOOLEAN"
	case models.TypeFloat64:
		return "DOUBLE PRECISION"
	case models.TypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func columnDDL(c models.Column, constraints bool) string {
	s := quote(c.Name) + " " + sqlType(c.Type)
	if !constraints {
		return s
	}
	switch {
	case c.Name == models.IDColumn:
		s += " PRIMARY KEY"
	case c.Type == models.TypeJSON:
		s += " NOT NULL DEFAULT '[]'::jsonb"
	case !c.Nullable:
		s += " NOT NULL"
	}
	return s
}

func createTableSQL(table string, cols []models.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = columnDDL(c, true)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", ident(table).Sanitize(), strings.Join(defs, ",\n\t"))
}

// createStagingSQL builds an unconstrained copy of cols plus the ordinal.
func createStagingSQL(staging string, cols []models.Column) string {
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, columnDDL(c, false))
	}
	defs = append(defs, quote(common.SeqColumn)+" BIGINT NOT NULL")
	return fmt.Sprintf("CREATE UNLOGGED TABLE %s (\n\t%s\n)", ident(staging).Sanitize(), strings.Join(defs, ",\n\t"))
}

func addColumnsSQL(table string, cols []models.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = "ADD COLUMN IF NOT EXISTS " + columnDDL(c, false)
	}
	return fmt.Sprintf("ALTER TABLE %s %s", ident(table).Sanitize(), strings.Join(parts, ", "))
}

func dropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + ident(table).Sanitize()
}

// mergeSQL folds staging into table. The highest ordinal per id wins;
// nullable columns keep the stored value when staging has NULL.
func mergeSQL(staging, table string, cols []models.Column) string {
	id := quote(models.IDColumn)

	var sets, names, vals []string
	for _, c := range cols {
		q := quote(c.Name)
		names = append(names, q)
		vals = append(vals, "s."+q)
		if c.Name == models.IDColumn {
			continue
		}
		if c.Nullable {
			sets = append(sets, fmt.Sprintf("%s = COALESCE(s.%s, t.%s)", q, q, q))
		} else {
			sets = append(sets, fmt.Sprintf("%s = s.%s", q, q))
		}
	}

	return fmt.Sprintf(`MERGE INTO %s AS t
USING (
	SELECT DISTINCT ON (%s) * FROM %s ORDER BY %s, %s DESC
) AS s
ON t.%s = s.%s
WHEN MATCHED THEN
	UPDATE SET %s
WHEN NOT MATCHED THEN
	INSERT (%s) VALUES (%s)`,
		ident(table).Sanitize(),
		id, ident(staging).Sanitize(), id, quote(common.SeqColumn),
		id, id,
		strings.Join(sets, ", "),
		strings.Join(names, ", "), strings.Join(vals, ", "),
	)
}

// columnsSQL lists a table's columns. $1 is the schema (empty for the
// current one) and $2 the table name.
const columnsSQL = `SELECT column_name
FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
ORDER BY ordinal_position`

func splitName(name string) (schema, table string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
