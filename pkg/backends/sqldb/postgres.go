package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

// Postgres renders PostgreSQL DDL. The REST backend reuses it, since the
// hosted table API runs PostgreSQL underneath.
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		DeferredForeignKeys: true,
		Modifiers:           []schema.Modifier{schema.ModifierAutoIncrement},
	}
}

func (Postgres) Quote(ident string) string { return quoteWith(`"`, ident) }

const identity = " GENERATED BY DEFAULT AS IDENTITY"

func (p Postgres) ColumnDefinition(c *schema.Column) string {
	def := p.Quote(c.Name) + " " + c.Type
	if c.HasModifier(schema.ModifierAutoIncrement) {
		def += identity
	}
	return def + nullability(c) + defaultClause(c)
}

// AlterColumn emits a single ALTER TABLE carrying only the clauses that
// differ from prev. Without prev every clause is emitted.
func (p Postgres) AlterColumn(table string, prev, next *schema.Column) ([]string, error) {
	col := p.Quote(next.Name)
	var clauses []string

	if prev == nil || prev.Type != next.Type {
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s TYPE %s", col, next.Type))
	}
	if prev == nil || prev.Nullable != next.Nullable {
		if next.Nullable {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", col))
		} else {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", col))
		}
	}
	if prev == nil || !sameDefault(prev, next) {
		if next.Default != nil {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", col, *next.Default))
		} else {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", col))
		}
	}
	wasIdentity := prev != nil && prev.HasModifier(schema.ModifierAutoIncrement)
	isIdentity := next.HasModifier(schema.ModifierAutoIncrement)
	switch {
	case isIdentity && !wasIdentity:
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s ADD%s", col, identity))
	case wasIdentity && !isIdentity:
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP IDENTITY IF EXISTS", col))
	}

	if len(clauses) == 0 {
		return nil, nil
	}
	return []string{fmt.Sprintf("ALTER TABLE %s %s", p.Quote(table), strings.Join(clauses, ", "))}, nil
}

func (p Postgres) AddForeignKey(table string, fk *schema.ForeignKey) ([]string, error) {
	return addConstraint(p, table, fk), nil
}

func (p Postgres) DropForeignKey(table string, fk *schema.ForeignKey) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
		p.Quote(table), p.Quote(fk.ConstraintName(table)))}, nil
}

func (p Postgres) DropColumn(table, column string) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", p.Quote(table), p.Quote(column))}, nil
}

// Describe looks the table up in the current schema.
func (p Postgres) Describe(ctx context.Context, q Querier, name string) (*engine.Description, error) {
	var tableSchema string
	err := q.QueryRowContext(ctx, `
		SELECT table_schema
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_name = $1
		  AND table_type = 'BASE TABLE'
	`, name).Scan(&tableSchema)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tableNotFound(name)
	}
	if err != nil {
		return nil, err
	}

	t := &schema.Table{Name: name, Kind: schema.KindSQLTable}

	rows, err := q.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, tableSchema, name)
	if err != nil {
		return nil, err
	}
	if t.Columns, err = scanColumns(rows); err != nil {
		return nil, err
	}

	pkRows, err := q.QueryContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`, tableSchema, name)
	if err != nil {
		return nil, err
	}
	if t.PrimaryKey, err = scanStrings(pkRows); err != nil {
		return nil, err
	}

	fkRows, err := q.QueryContext(ctx, `
		SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name, rc.delete_rule, rc.update_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name
		 AND ccu.table_schema = tc.table_schema
		JOIN information_schema.referential_constraints rc
		  ON rc.constraint_name = tc.constraint_name
		 AND rc.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`, tableSchema, name)
	if err != nil {
		return nil, err
	}
	if t.ForeignKeys, err = scanForeignKeys(fkRows); err != nil {
		return nil, err
	}

	return &engine.Description{Name: name, LiveName: tableSchema + "." + name, Table: t}, nil
}

func (Postgres) Classify(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ClassifySQLState(pgErr.Code)
	}
	return classifyCommon(err)
}

func sameDefault(a, b *schema.Column) bool {
	if a.Default == nil || b.Default == nil {
		return a.Default == nil && b.Default == nil
	}
	return *a.Default == *b.Default
}
