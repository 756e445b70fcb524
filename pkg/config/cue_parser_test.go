package config

import (
	"strings"
	"testing"
)

func TestCUEParser_ParseInline(t *testing.T) {
	parser, err := NewCUEParser()
	if err != nil {
		t.Fatalf("NewCUEParser failed: %v", err)
	}

	tests := []struct {
		name      string
		content   string
		wantErr   string
		checkFunc func(*testing.T, *Document)
	}{
		{
			name: "valid document",
			content: `
resources: {
	users: {
		type: "sql_table"
		columns: [
			{name: "id", type: "INT", nullable: false, modifiers: ["auto_increment"]},
			{name: "score", type: "INT", default: 0},
		]
		primary_key: "id"
	}
	posts: {
		type: "sql_table"
		columns: [{name: "id", type: "INT"}, {name: "user_id", type: "INT"}]
		primary_key: ["id"]
		foreign_keys: [{columns: ["user_id"], reference_table: "users", reference_columns: "id", on_delete: "set_null"}]
	}
}
`,
			checkFunc: func(t *testing.T, doc *Document) {
				if len(doc.Resources) != 2 {
					t.Fatalf("expected 2 resources, got %d", len(doc.Resources))
				}
				users := doc.Resources["users"]
				if got := []string(users.PrimaryKey); len(got) != 1 || got[0] != "id" {
					t.Errorf("primary key = %v", got)
				}
				if d := users.Columns[1].Default; d == nil || d.Value != "0" {
					t.Errorf("default = %+v", d)
				}
				if users.Columns[1].Nullable != nil {
					t.Errorf("nullable should be unset")
				}
				fk := doc.Resources["posts"].ForeignKeys[0]
				if len(fk.ReferenceColumns) != 1 || fk.OnDelete != "set_null" {
					t.Errorf("foreign key = %+v", fk)
				}
			},
		},
		{
			name:    "invalid CUE syntax",
			content: "resources: {\n\tusers: {\n\t\ttype: \"sql_table\"\n\t\tinvalid syntax here\n\t}\n}\n",
			wantErr: "inline",
		},
		{
			name: "unknown modifier",
			content: `
resources: users: {
	type: "sql_table"
	columns: [{name: "id", type: "INT", modifiers: ["signed"]}]
}
`,
			wantErr: "modifiers",
		},
		{
			name: "unknown type",
			content: `
resources: users: {
	type: "nosql_table"
	columns: [{name: "id", type: "INT"}]
}
`,
			wantErr: "resources.users.type",
		},
		{
			name: "no columns",
			content: `
resources: users: {
	type: "sql_table"
	columns: []
}
`,
			wantErr: "resources.users.columns",
		},
		{
			name: "unknown field",
			content: `
resources: users: {
	type: "sql_table"
	columns: [{name: "id", type: "INT"}]
	indexes: ["id"]
}
`,
			wantErr: "resources.users.indexes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, problems := parser.ParseInline(tt.content)

			if tt.wantErr != "" {
				if len(problems) == 0 {
					t.Fatal("expected problems, got none")
				}
				var all []string
				for _, p := range problems {
					all = append(all, p.String())
				}
				if joined := strings.Join(all, "\n"); !strings.Contains(joined, tt.wantErr) {
					t.Errorf("problems do not mention %q:\n%s", tt.wantErr, joined)
				}
				return
			}

			if len(problems) > 0 {
				t.Fatalf("unexpected problems: %v", problems)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, doc)
			}
		})
	}
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		ve   ValidationError
		want string
	}{
		{ValidationError{File: "a.cue", Line: 3, Column: 5, Path: "resources.x", Message: "bad"}, "a.cue:3:5: resources.x: bad"},
		{ValidationError{File: "a.yaml", Message: "bad"}, "a.yaml: bad"},
		{ValidationError{Path: "resources.x", Message: "bad"}, "resources.x: bad"},
		{ValidationError{Message: "bad"}, "bad"},
	}
	for _, tt := range tests {
		if got := tt.ve.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
