package bigquery

import (
	"fmt"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/models"
)

func fieldType(t models.LogicalType) bq.FieldType {
	switch t {
	case models.TypeInt64:
		return bq.IntegerFieldType
	case models.TypeDate:
		return bq.DateFieldType
	case models.TypeBool:
		return bq.BooleanFieldType
	case models.TypeFloat64:
		return bq.FloatFieldType
	case models.TypeJSON:
		return bq.JSONFieldType
	default:
		return bq.StringFieldType
	}
}

// schema maps cols to a BigQuery schema. Required flags are only set when
// constraints is true.
func schema(cols []models.Column, constraints bool) bq.Schema {
	s := make(bq.Schema, 0, len(cols))
	for _, c := range cols {
		s = append(s, &bq.FieldSchema{
			Name:     c.Name,
			Type:     fieldType(c.Type),
			Required: constraints && !c.Nullable,
		})
	}
	return s
}

func stagingSchema(cols []models.Column) bq.Schema {
	s := schema(cols, false)
	return append(s, &bq.FieldSchema{Name: common.SeqColumn, Type: bq.IntegerFieldType, Required: true})
}

func tableRef(project, dataset, table string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table)
}

// mergeSQL folds staging into table. The highest ordinal per id wins;
// nullable columns keep the stored value when staging has NULL.
func mergeSQL(staging, table string, cols []models.Column) string {
	var sets, names, vals []string
	for _, c := range cols {
		q := "`" + c.Name + "`"
		names = append(names, q)
		vals = append(vals, "S."+q)
		if c.Name == models.IDColumn {
			continue
		}
		if c.Nullable {
			sets = append(sets, fmt.Sprintf("%s = COALESCE(S.%s, T.%s)", q, q, q))
		} else {
			sets = append(sets, fmt.Sprintf("%s = S.%s", q, q))
		}
	}

	return fmt.Sprintf("MERGE %s T\n"+
		"USING (\n"+
		"\tSELECT * EXCEPT(`%s`) FROM %s WHERE TRUE\n"+
		"\tQUALIFY ROW_NUMBER() OVER (PARTITION BY `%s` ORDER BY `%s` DESC) = 1\n"+
		") S\n"+
		"ON T.`%s` = S.`%s`\n"+
		"WHEN MATCHED THEN\n"+
		"\tUPDATE SET %s\n"+
		"WHEN NOT MATCHED THEN\n"+
		"\tINSERT (%s) VALUES (%s)",
		table,
		common.SeqColumn, staging,
		models.IDColumn, common.SeqColumn,
		models.IDColumn, models.IDColumn,
		strings.Join(sets, ", "),
		strings.Join(names, ", "), strings.Join(vals, ", "),
	)
}
