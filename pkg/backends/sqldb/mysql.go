package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/go-sql-driver/mysql"
)

// MySQL renders MySQL DDL.
type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

func (MySQL) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		DeferredForeignKeys: true,
		Modifiers:           schema.AllModifiers,
	}
}

func (MySQL) Quote(ident string) string { return quoteWith("`", ident) }

// ColumnDefinition renders type attributes before NOT NULL and DEFAULT, and
// AUTO_INCREMENT last.
func (m MySQL) ColumnDefinition(c *schema.Column) string {
	var b strings.Builder
	b.WriteString(m.Quote(c.Name) + " " + c.Type)
	if c.HasModifier(schema.ModifierUnsigned) {
		b.WriteString(" UNSIGNED")
	}
	if c.HasModifier(schema.ModifierZerofill) {
		b.WriteString(" ZEROFILL")
	}
	if c.HasModifier(schema.ModifierBinary) {
		b.WriteString(" BINARY")
	}
	b.WriteString(nullability(c))
	b.WriteString(defaultClause(c))
	if c.HasModifier(schema.ModifierAutoIncrement) {
		b.WriteString(" AUTO_INCREMENT")
	}
	return b.String()
}

// AlterColumn redefines the whole column with MODIFY COLUMN.
func (m MySQL) AlterColumn(table string, _, next *schema.Column) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", m.Quote(table), m.ColumnDefinition(next))}, nil
}

func (m MySQL) AddForeignKey(table string, fk *schema.ForeignKey) ([]string, error) {
	return addConstraint(m, table, fk), nil
}

func (m MySQL) DropForeignKey(table string, fk *schema.ForeignKey) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s",
		m.Quote(table), m.Quote(fk.ConstraintName(table)))}, nil
}

func (m MySQL) DropColumn(table, column string) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", m.Quote(table), m.Quote(column))}, nil
}

// Describe looks the table up in the connection's default database.
func (m MySQL) Describe(ctx context.Context, q Querier, name string) (*engine.Description, error) {
	var database string
	err := q.QueryRowContext(ctx, `
		SELECT TABLE_SCHEMA
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
	`, name).Scan(&database)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tableNotFound(name)
	}
	if err != nil {
		return nil, err
	}

	t := &schema.Table{Name: name, Kind: schema.KindSQLTable}

	rows, err := q.QueryContext(ctx, "DESCRIBE "+m.Quote(name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			field, fieldType, null, key, extra string
			dflt                               sql.NullString
		)
		if err := rows.Scan(&field, &fieldType, &null, &key, &dflt, &extra); err != nil {
			return nil, err
		}
		col := parseMySQLType(fieldType)
		col.Name = field
		col.Nullable = null == "YES"
		if dflt.Valid {
			col.Default = &dflt.String
		}
		if strings.Contains(strings.ToLower(extra), "auto_increment") {
			col.Modifiers = append(col.Modifiers, schema.ModifierAutoIncrement)
		}
		if key == "PRI" {
			t.PrimaryKey = append(t.PrimaryKey, field)
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fkRows, err := q.QueryContext(ctx, `
		SELECT kcu.CONSTRAINT_NAME, kcu.COLUMN_NAME, kcu.REFERENCED_TABLE_NAME,
		       kcu.REFERENCED_COLUMN_NAME, rc.DELETE_RULE, rc.UPDATE_RULE
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
		  ON rc.CONSTRAINT_SCHEMA = kcu.TABLE_SCHEMA
		 AND rc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		WHERE kcu.TABLE_SCHEMA = DATABASE()
		  AND kcu.TABLE_NAME = ?
		  AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION
	`, name)
	if err != nil {
		return nil, err
	}
	if t.ForeignKeys, err = scanForeignKeys(fkRows); err != nil {
		return nil, err
	}

	return &engine.Description{Name: name, LiveName: database + "." + name, Table: t}, nil
}

// parseMySQLType splits "int(10) unsigned zerofill" into type and modifiers.
func parseMySQLType(s string) schema.Column {
	var col schema.Column
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		switch strings.ToLower(f) {
		case "unsigned":
			col.Modifiers = append(col.Modifiers, schema.ModifierUnsigned)
		case "zerofill":
			col.Modifiers = append(col.Modifiers, schema.ModifierZerofill)
		default:
			kept = append(kept, f)
		}
	}
	col.Type = strings.Join(kept, " ")
	return col
}

// MySQL server error numbers.
const (
	erDBAccessDenied       = 1044
	erAccessDenied         = 1045
	erTableExists          = 1050
	erBadTable             = 1051
	erBadField             = 1054
	erDupFieldName         = 1060
	erDupEntry             = 1062
	erCantDropFieldOrKey   = 1091
	erTableAccessDenied    = 1142
	erColumnAccessDenied   = 1143
	erNoSuchTable          = 1146
	erLockWaitTimeout      = 1205
	erCannotAddForeign     = 1215
	erNoReferencedRow      = 1216
	erRowIsReferenced      = 1217
	erSpecificAccessDenied = 1227
	erRowIsReferenced2     = 1451
	erNoReferencedRow2     = 1452
	erFKNoIndexParent      = 1822
	erFKDupName            = 1826
	erQueryTimeout         = 3024
	erDropReferencedTable  = 3730
	erFKIncompatibleCols   = 3780
)

func (MySQL) Classify(err error) string {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return classifyCommon(err)
	}
	switch myErr.Number {
	case erTableExists, erDupFieldName, erFKDupName:
		return engine.ErrCodeAlreadyExists
	case erBadTable, erNoSuchTable, erBadField, erCantDropFieldOrKey:
		return engine.ErrCodeNotFound
	case erDBAccessDenied, erAccessDenied, erTableAccessDenied, erColumnAccessDenied, erSpecificAccessDenied:
		return engine.ErrCodePermissionDenied
	case erDupEntry, erCannotAddForeign, erNoReferencedRow, erRowIsReferenced,
		erRowIsReferenced2, erNoReferencedRow2, erFKNoIndexParent, erFKIncompatibleCols, erDropReferencedTable:
		return engine.ErrCodeConstraintViolation
	case erLockWaitTimeout, erQueryTimeout:
		return engine.ErrCodeTimeout
	}
	if myErr.SQLState != [5]byte{} {
		return ClassifySQLState(string(myErr.SQLState[:]))
	}
	return engine.ErrCodeInternal
}
