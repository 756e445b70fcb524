package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite renders SQLite DDL. SQLite cannot alter a column or change the
// foreign keys of an existing table, so keys only exist inline in CREATE
// TABLE and cycles between tables cannot be planned.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite" }

func (SQLite) Capabilities() engine.Capabilities {
	return engine.Capabilities{DeferredForeignKeys: false}
}

func (SQLite) Quote(ident string) string { return quoteWith(`"`, ident) }

func (s SQLite) ColumnDefinition(c *schema.Column) string {
	return s.Quote(c.Name) + " " + c.Type + nullability(c) + defaultClause(c)
}

func (SQLite) AlterColumn(table string, _, next *schema.Column) ([]string, error) {
	return nil, unsupported("sqlite", fmt.Sprintf("alter column %s.%s", table, next.Name))
}

func (SQLite) AddForeignKey(table string, fk *schema.ForeignKey) ([]string, error) {
	return nil, unsupported("sqlite", fmt.Sprintf("add foreign key %s to existing table %s", fk.Identity(), table))
}

func (SQLite) DropForeignKey(table string, fk *schema.ForeignKey) ([]string, error) {
	return nil, unsupported("sqlite", fmt.Sprintf("drop foreign key %s from table %s", fk.Identity(), table))
}

func (s SQLite) DropColumn(table, column string) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", s.Quote(table), s.Quote(column))}, nil
}

// Describe reads sqlite_master and the table_info and foreign_key_list
// pragmas. Tables always live in the main schema.
func (s SQLite) Describe(ctx context.Context, q Querier, name string) (*engine.Description, error) {
	var found string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tableNotFound(name)
	}
	if err != nil {
		return nil, err
	}

	t := &schema.Table{Name: name, Kind: schema.KindSQLTable}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", s.Quote(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pk := make(map[int]string)
	for rows.Next() {
		var (
			cid, notNull, pkPos int
			colName, typeName   string
			dflt                sql.NullString
		)
		if err := rows.Scan(&cid, &colName, &typeName, &notNull, &dflt, &pkPos); err != nil {
			return nil, err
		}
		col := schema.Column{Name: colName, Type: typeName, Nullable: notNull == 0}
		if dflt.Valid {
			col.Default = &dflt.String
		}
		if pkPos > 0 {
			pk[pkPos] = colName
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := 1; i <= len(pk); i++ {
		t.PrimaryKey = append(t.PrimaryKey, pk[i])
	}

	fkRows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", s.Quote(name)))
	if err != nil {
		return nil, err
	}
	defer fkRows.Close()

	byID := make(map[int]*schema.ForeignKey)
	var order []int
	for fkRows.Next() {
		var (
			id, seq                                 int
			refTable, from, onUpdate, onDelete, mat string
			to                                      sql.NullString
		)
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &mat); err != nil {
			return nil, err
		}
		fk, ok := byID[id]
		if !ok {
			fk = &schema.ForeignKey{ReferenceTable: refTable}
			fk.OnDelete, _ = schema.ParseReferentialAction(onDelete)
			fk.OnUpdate, _ = schema.ParseReferentialAction(onUpdate)
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.ReferenceColumns = append(fk.ReferenceColumns, to.String)
	}
	if err := fkRows.Err(); err != nil {
		return nil, err
	}
	for _, id := range order {
		t.ForeignKeys = append(t.ForeignKeys, *byID[id])
	}

	return &engine.Description{Name: name, LiveName: "main." + name, Table: t}, nil
}

func (SQLite) Classify(err error) string {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return classifyCommon(err)
	}
	msg := strings.ToLower(sqliteErr.Error())
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return engine.ErrCodeConstraintViolation
	case sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_READONLY:
		return engine.ErrCodePermissionDenied
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return engine.ErrCodeTimeout
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
		return engine.ErrCodeConnectionFailure
	}
	switch {
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "duplicate column"):
		return engine.ErrCodeAlreadyExists
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"):
		return engine.ErrCodeNotFound
	case strings.Contains(msg, "foreign key"):
		return engine.ErrCodeConstraintViolation
	}
	return engine.ErrCodeInternal
}
