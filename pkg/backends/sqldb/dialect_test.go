package sqldb

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/go-sql-driver/mysql"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"
	pgparse "github.com/wasilibs/go-pgquery"
)

func strPtr(s string) *string { return &s }

func usersTable() *schema.Table {
	return &schema.Table{
		Name: "users",
		Kind: schema.KindSQLTable,
		Columns: []schema.Column{
			{Name: "id", Type: "integer", Modifiers: []schema.Modifier{schema.ModifierAutoIncrement}},
			{Name: "email", Type: "varchar(255)"},
			{Name: "bio", Type: "text", Nullable: true, Default: strPtr("'none'")},
		},
		PrimaryKey: []string{"id"},
	}
}

func postsTable() *schema.Table {
	return &schema.Table{
		Name: "posts",
		Kind: schema.KindSQLTable,
		Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "user_id", Type: "integer"},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Columns:          []string{"user_id"},
			ReferenceTable:   "users",
			ReferenceColumns: []string{"id"},
			OnDelete:         schema.ActionCascade,
		}},
	}
}

func TestDialectFor(t *testing.T) {
	tests := map[string]string{
		"mysql":      "mysql",
		"MariaDB":    "mysql",
		"postgresql": "postgres",
		"pg":         "postgres",
		" sqlite3 ":  "sqlite",
	}
	for in, want := range tests {
		d, err := DialectFor(in)
		if err != nil {
			t.Errorf("DialectFor(%q) failed: %v", in, err)
			continue
		}
		if d.Name() != want {
			t.Errorf("DialectFor(%q) = %s, want %s", in, d.Name(), want)
		}
	}
	if _, err := DialectFor("oracle"); err == nil {
		t.Error("expected error for unsupported dialect")
	}
}

func TestCreateTable(t *testing.T) {
	tests := []struct {
		dialect Dialect
		table   *schema.Table
		want    string
	}{
		{
			dialect: Postgres{},
			table:   usersTable(),
			want: `CREATE TABLE "users" (
  "id" integer GENERATED BY DEFAULT AS IDENTITY NOT NULL,
  "email" varchar(255) NOT NULL,
  "bio" text DEFAULT 'none',
  PRIMARY KEY ("id")
)`,
		},
		{
			dialect: Postgres{},
			table:   postsTable(),
			want: `CREATE TABLE "posts" (
  "id" integer NOT NULL,
  "user_id" integer NOT NULL,
  PRIMARY KEY ("id"),
  CONSTRAINT "posts_user_id_users_fkey" FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON DELETE CASCADE
)`,
		},
		{
			dialect: MySQL{},
			table:   usersTable(),
			want: "CREATE TABLE `users` (\n" +
				"  `id` integer NOT NULL AUTO_INCREMENT,\n" +
				"  `email` varchar(255) NOT NULL,\n" +
				"  `bio` text DEFAULT 'none',\n" +
				"  PRIMARY KEY (`id`)\n" +
				")",
		},
		{
			dialect: SQLite{},
			table:   postsTable(),
			want: `CREATE TABLE "posts" (
  "id" integer NOT NULL,
  "user_id" integer NOT NULL,
  PRIMARY KEY ("id"),
  CONSTRAINT "posts_user_id_users_fkey" FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON DELETE CASCADE
)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name()+"/"+tt.table.Name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, CreateTable(tt.dialect, tt.table)); diff != "" {
				t.Errorf("CreateTable mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMySQLColumnModifiers(t *testing.T) {
	col := &schema.Column{
		Name: "counter",
		Type: "INT(10)",
		Modifiers: []schema.Modifier{
			schema.ModifierAutoIncrement, schema.ModifierZerofill, schema.ModifierUnsigned,
		},
	}
	want := "`counter` INT(10) UNSIGNED ZEROFILL NOT NULL AUTO_INCREMENT"
	if got := (MySQL{}).ColumnDefinition(col); got != want {
		t.Errorf("ColumnDefinition = %q, want %q", got, want)
	}
}

func TestReferentialActionsOmittedWhenNoAction(t *testing.T) {
	fk := &schema.ForeignKey{
		Columns: []string{"author_id"}, ReferenceTable: "authors", ReferenceColumns: []string{"id"},
		OnUpdate: schema.ActionSetNull,
	}
	got := foreignKeyConstraint(Postgres{}, "books", fk)
	if strings.Contains(got, "ON DELETE") {
		t.Errorf("NO ACTION should be omitted: %s", got)
	}
	if !strings.HasSuffix(got, "ON UPDATE SET NULL") {
		t.Errorf("expected ON UPDATE SET NULL: %s", got)
	}
}

func TestPostgresAlterColumn(t *testing.T) {
	prev := &schema.Column{Name: "email", Type: "varchar(100)", Nullable: true}

	t.Run("only changed clauses", func(t *testing.T) {
		next := &schema.Column{Name: "email", Type: "varchar(255)", Nullable: true}
		got, err := Postgres{}.AlterColumn("users", prev, next)
		if err != nil {
			t.Fatalf("AlterColumn failed: %v", err)
		}
		want := []string{`ALTER TABLE "users" ALTER COLUMN "email" TYPE varchar(255)`}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("nullability default and identity", func(t *testing.T) {
		next := &schema.Column{
			Name: "email", Type: "varchar(100)", Default: strPtr("''"),
			Modifiers: []schema.Modifier{schema.ModifierAutoIncrement},
		}
		got, err := Postgres{}.AlterColumn("users", prev, next)
		if err != nil {
			t.Fatalf("AlterColumn failed: %v", err)
		}
		want := []string{`ALTER TABLE "users" ALTER COLUMN "email" SET NOT NULL, ` +
			`ALTER COLUMN "email" SET DEFAULT '', ` +
			`ALTER COLUMN "email" ADD GENERATED BY DEFAULT AS IDENTITY`}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown previous definition", func(t *testing.T) {
		next := &schema.Column{Name: "email", Type: "text", Nullable: true}
		got, err := Postgres{}.AlterColumn("users", nil, next)
		if err != nil {
			t.Fatalf("AlterColumn failed: %v", err)
		}
		want := []string{`ALTER TABLE "users" ALTER COLUMN "email" TYPE text, ` +
			`ALTER COLUMN "email" DROP NOT NULL, ALTER COLUMN "email" DROP DEFAULT`}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

// allActions covers every action type against the users/posts fixture.
func allActions() []*engine.Action {
	users := usersTable()
	posts := postsTable()
	prev := users.Columns[1]
	next := prev
	next.Type = "varchar(320)"
	added := schema.Column{Name: "created_at", Type: "timestamp", Default: strPtr("now()")}
	return []*engine.Action{
		{Type: engine.ActionCreateTable, Resource: "users", Table: users},
		{Type: engine.ActionCreateTable, Resource: "posts", Table: posts},
		{Type: engine.ActionAddColumn, Resource: "users", Column: &added},
		{Type: engine.ActionAlterColumn, Resource: "users", Column: &next, Previous: &prev},
		{Type: engine.ActionDropColumn, Resource: "users", ColumnName: "bio"},
		{Type: engine.ActionDropForeignKey, Resource: "posts", ForeignKey: &posts.ForeignKeys[0]},
		{Type: engine.ActionAddForeignKey, Resource: "posts", ForeignKey: &posts.ForeignKeys[0]},
		{Type: engine.ActionDropTable, Resource: "posts"},
	}
}

// The PostgreSQL output must be accepted by the real PostgreSQL parser.
func TestPostgresStatementsParse(t *testing.T) {
	for _, a := range allActions() {
		t.Run(a.String(), func(t *testing.T) {
			stmts, err := Statements(Postgres{}, a)
			if err != nil {
				t.Fatalf("Statements failed: %v", err)
			}
			if len(stmts) == 0 {
				t.Fatal("no statements rendered")
			}
			for _, stmt := range stmts {
				if _, err := pgparse.Parse(stmt); err != nil {
					t.Errorf("statement does not parse: %v\n%s", err, stmt)
				}
			}
		})
	}
}

func TestMySQLStatements(t *testing.T) {
	got := make([]string, 0)
	for _, a := range allActions()[2:] {
		stmts, err := Statements(MySQL{}, a)
		if err != nil {
			t.Fatalf("Statements(%s) failed: %v", a, err)
		}
		got = append(got, stmts...)
	}
	want := []string{
		"ALTER TABLE `users` ADD COLUMN `created_at` timestamp NOT NULL DEFAULT now()",
		"ALTER TABLE `users` MODIFY COLUMN `email` varchar(320) NOT NULL",
		"ALTER TABLE `users` DROP COLUMN `bio`",
		"ALTER TABLE `posts` DROP FOREIGN KEY `posts_user_id_users_fkey`",
		"ALTER TABLE `posts` ADD CONSTRAINT `posts_user_id_users_fkey` FOREIGN KEY (`user_id`) REFERENCES `users` (`id`) ON DELETE CASCADE",
		"DROP TABLE `posts`",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteUnsupported(t *testing.T) {
	for _, a := range allActions() {
		_, err := Statements(SQLite{}, a)
		switch a.Type {
		case engine.ActionAlterColumn, engine.ActionAddForeignKey, engine.ActionDropForeignKey:
			if !errors.Is(err, engine.ErrUnsupported) {
				t.Errorf("%s: expected UNSUPPORTED, got %v", a, err)
			}
		default:
			if err != nil {
				t.Errorf("%s: unexpected error %v", a, err)
			}
		}
	}
}

func TestQuoteEscapes(t *testing.T) {
	if got := (Postgres{}).Quote(`we"ird`); got != `"we""ird"` {
		t.Errorf("Postgres quote = %s", got)
	}
	if got := (MySQL{}).Quote("we`ird"); got != "`we``ird`" {
		t.Errorf("MySQL quote = %s", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		err     error
		want    string
	}{
		{"pg duplicate table", Postgres{}, &pgconn.PgError{Code: "42P07"}, engine.ErrCodeAlreadyExists},
		{"pg undefined table", Postgres{}, &pgconn.PgError{Code: "42P01"}, engine.ErrCodeNotFound},
		{"pg fk violation", Postgres{}, &pgconn.PgError{Code: "23503"}, engine.ErrCodeConstraintViolation},
		{"pg privilege", Postgres{}, &pgconn.PgError{Code: "42501"}, engine.ErrCodePermissionDenied},
		{"pg cancelled", Postgres{}, &pgconn.PgError{Code: "57014"}, engine.ErrCodeTimeout},
		{"pg connection", Postgres{}, &pgconn.PgError{Code: "08006"}, engine.ErrCodeConnectionFailure},
		{"pg wrapped", Postgres{}, fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42P07"}), engine.ErrCodeAlreadyExists},
		{"mysql exists", MySQL{}, &mysql.MySQLError{Number: 1050}, engine.ErrCodeAlreadyExists},
		{"mysql unknown table", MySQL{}, &mysql.MySQLError{Number: 1051}, engine.ErrCodeNotFound},
		{"mysql fk", MySQL{}, &mysql.MySQLError{Number: 1215}, engine.ErrCodeConstraintViolation},
		{"mysql denied", MySQL{}, &mysql.MySQLError{Number: 1142}, engine.ErrCodePermissionDenied},
		{"mysql sqlstate fallback", MySQL{}, &mysql.MySQLError{Number: 9999, SQLState: [5]byte{'2', '3', '0', '0', '0'}}, engine.ErrCodeConstraintViolation},
		{"deadline", SQLite{}, fmt.Errorf("ping: %w", errDeadline{}), engine.ErrCodeTimeout},
		{"unknown", SQLite{}, errors.New("boom"), engine.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Classify(tt.err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

// errDeadline is a net.Error that timed out.
type errDeadline struct{}

func (errDeadline) Error() string   { return "i/o timeout" }
func (errDeadline) Timeout() bool   { return true }
func (errDeadline) Temporary() bool { return true }

func TestConfigDataSourceName(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		dialect Dialect
		want    string
	}{
		{
			name:    "mysql fields",
			cfg:     Config{User: "root", Password: "secret", Host: "db", Database: "app"},
			dialect: MySQL{},
			want:    "root:secret@tcp(db:3306)/app?parseTime=true",
		},
		{
			name:    "postgres fields",
			cfg:     Config{User: "app", Password: "pw", Port: 5433, Database: "shop"},
			dialect: Postgres{},
			want:    "postgres://app:pw@localhost:5433/shop",
		},
		{
			name:    "postgres dsn wins",
			cfg:     Config{DSN: "postgres://x@h/db", Host: "ignored"},
			dialect: Postgres{},
			want:    "postgres://x@h/db",
		},
		{
			name:    "sqlite path",
			cfg:     Config{Database: "app.db"},
			dialect: SQLite{},
			want:    "app.db?_pragma=foreign_keys(1)",
		},
		{
			name:    "sqlite url with query",
			cfg:     Config{DSN: "sqlite://app.db?mode=rwc"},
			dialect: SQLite{},
			want:    "app.db?mode=rwc&_pragma=foreign_keys(1)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.DataSourceName(tt.dialect)
			if err != nil {
				t.Fatalf("DataSourceName failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("DataSourceName = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := (Config{DSN: "not a dsn"}).DataSourceName(MySQL{}); err == nil {
		t.Error("expected error for malformed mysql dsn")
	}
	if _, err := (Config{}).DataSourceName(SQLite{}); err == nil {
		t.Error("expected error for sqlite without a path")
	}
}
