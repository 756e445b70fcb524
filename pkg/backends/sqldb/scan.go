package sqldb

import (
	"database/sql"
	"slices"

	"github.com/aquaform/aquaform/pkg/schema"
)

// scanColumns reads (name, type, is_nullable, default) rows and closes them.
func scanColumns(rows *sql.Rows) ([]schema.Column, error) {
	defer rows.Close()
	var cols []schema.Column
	for rows.Next() {
		var (
			name, dataType, nullable string
			dflt                     sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &nullable, &dflt); err != nil {
			return nil, err
		}
		col := schema.Column{Name: name, Type: dataType, Nullable: nullable == "YES"}
		if dflt.Valid {
			col.Default = &dflt.String
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// scanStrings reads single-column rows and closes them.
func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// scanForeignKeys reads (constraint, column, referenced table, referenced
// column, delete rule, update rule) rows ordered by constraint, and closes
// them. Repeated columns from information_schema joins are collapsed.
func scanForeignKeys(rows *sql.Rows) ([]schema.ForeignKey, error) {
	defer rows.Close()
	var (
		out     []schema.ForeignKey
		current string
	)
	for rows.Next() {
		var constraint, column, refTable, refColumn, onDelete, onUpdate string
		if err := rows.Scan(&constraint, &column, &refTable, &refColumn, &onDelete, &onUpdate); err != nil {
			return nil, err
		}
		if len(out) == 0 || constraint != current {
			fk := schema.ForeignKey{ReferenceTable: refTable}
			fk.OnDelete, _ = schema.ParseReferentialAction(onDelete)
			fk.OnUpdate, _ = schema.ParseReferentialAction(onUpdate)
			out = append(out, fk)
			current = constraint
		}
		fk := &out[len(out)-1]
		if !slices.Contains(fk.Columns, column) {
			fk.Columns = append(fk.Columns, column)
		}
		if !slices.Contains(fk.ReferenceColumns, refColumn) {
			fk.ReferenceColumns = append(fk.ReferenceColumns, refColumn)
		}
	}
	return out, rows.Err()
}
