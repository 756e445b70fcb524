package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
)

// Dialect renders actions as DDL for one SQL engine and reads tables back.
type Dialect interface {
	// Name is the dialect name used in configuration.
	Name() string

	// DriverName is the database/sql driver the dialect connects with.
	DriverName() string

	// Capabilities reports what the dialect can express.
	Capabilities() engine.Capabilities

	// Quote quotes an identifier.
	Quote(ident string) string

	// ColumnDefinition renders a column as it appears in CREATE TABLE and
	// ADD COLUMN.
	ColumnDefinition(c *schema.Column) string

	// AlterColumn turns prev into next. prev may be nil when the recorded
	// definition is unknown.
	AlterColumn(table string, prev, next *schema.Column) ([]string, error)

	// AddForeignKey adds a named constraint to an existing table.
	AddForeignKey(table string, fk *schema.ForeignKey) ([]string, error)

	// DropForeignKey drops a named constraint.
	DropForeignKey(table string, fk *schema.ForeignKey) ([]string, error)

	// DropColumn removes a column.
	DropColumn(table, column string) ([]string, error)

	// Describe reads back a live table. A missing table is engine.ErrNotFound.
	Describe(ctx context.Context, q Querier, name string) (*engine.Description, error)

	// Classify maps a driver error to an engine error code.
	Classify(err error) string
}

// Querier is the read side of *sql.DB used by Describe.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "postgres", "postgresql", "pg":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported SQL dialect: %q", name)
	}
}

// Statements renders action in dialect d.
func Statements(d Dialect, a *engine.Action) ([]string, error) {
	switch a.Type {
	case engine.ActionCreateTable:
		if a.Table == nil {
			return nil, malformed(a, "missing table definition")
		}
		return []string{CreateTable(d, a.Table)}, nil
	case engine.ActionDropTable:
		return []string{"DROP TABLE " + d.Quote(a.Resource)}, nil
	case engine.ActionAddColumn:
		if a.Column == nil {
			return nil, malformed(a, "missing column definition")
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(a.Resource), d.ColumnDefinition(a.Column))}, nil
	case engine.ActionAlterColumn:
		if a.Column == nil {
			return nil, malformed(a, "missing column definition")
		}
		return d.AlterColumn(a.Resource, a.Previous, a.Column)
	case engine.ActionDropColumn:
		return d.DropColumn(a.Resource, a.ColumnName)
	case engine.ActionAddForeignKey:
		if a.ForeignKey == nil {
			return nil, malformed(a, "missing foreign key")
		}
		return d.AddForeignKey(a.Resource, a.ForeignKey)
	case engine.ActionDropForeignKey:
		if a.ForeignKey == nil {
			return nil, malformed(a, "missing foreign key")
		}
		return d.DropForeignKey(a.Resource, a.ForeignKey)
	default:
		return nil, engine.NewBackendError(engine.ErrCodeUnsupported,
			fmt.Sprintf("unknown action type %q", a.Type), nil)
	}
}

func malformed(a *engine.Action, msg string) error {
	return engine.NewPermanentError(fmt.Sprintf("%s: %s", a.Type, msg), nil).WithCode(engine.ErrCodeInternal)
}

// unsupported reports an action the dialect cannot express.
func unsupported(dialect, what string) error {
	return engine.NewBackendError(engine.ErrCodeUnsupported,
		fmt.Sprintf("%s cannot %s", dialect, what), nil)
}

// CreateTable renders CREATE TABLE with the primary key and every foreign key
// the table carries as table constraints.
func CreateTable(d Dialect, t *schema.Table) string {
	lines := make([]string, 0, len(t.Columns)+1+len(t.ForeignKeys))
	for i := range t.Columns {
		lines = append(lines, "  "+d.ColumnDefinition(&t.Columns[i]))
	}
	if len(t.PrimaryKey) > 0 {
		lines = append(lines, fmt.Sprintf("  PRIMARY KEY (%s)", quoteList(d, t.PrimaryKey)))
	}
	for i := range t.ForeignKeys {
		lines = append(lines, "  "+foreignKeyConstraint(d, t.Name, &t.ForeignKeys[i]))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", d.Quote(t.Name), strings.Join(lines, ",\n"))
}

// foreignKeyConstraint renders CONSTRAINT name FOREIGN KEY ... REFERENCES ...
func foreignKeyConstraint(d Dialect, table string, fk *schema.ForeignKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.Quote(fk.ConstraintName(table)),
		quoteList(d, fk.Columns),
		d.Quote(fk.ReferenceTable),
		quoteList(d, fk.ReferenceColumns))
	if a := fk.DeleteAction(); a != schema.ActionNoAction {
		b.WriteString(" ON DELETE " + string(a))
	}
	if a := fk.UpdateAction(); a != schema.ActionNoAction {
		b.WriteString(" ON UPDATE " + string(a))
	}
	return b.String()
}

// addConstraint is the ALTER TABLE form shared by MySQL and PostgreSQL.
func addConstraint(d Dialect, table string, fk *schema.ForeignKey) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD %s", d.Quote(table), foreignKeyConstraint(d, table, fk))}
}

func quoteList(d Dialect, idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = d.Quote(id)
	}
	return strings.Join(quoted, ", ")
}

// quoteWith doubles q inside ident and wraps it.
func quoteWith(q, ident string) string {
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// nullability renders the NOT NULL clause.
func nullability(c *schema.Column) string {
	if c.Nullable {
		return ""
	}
	return " NOT NULL"
}

// defaultClause renders the DEFAULT clause. The expression is passed through.
func defaultClause(c *schema.Column) string {
	if c.Default == nil {
		return ""
	}
	return " DEFAULT " + *c.Default
}
