package config

import (
	"bytes"
	"fmt"

	"github.com/aquaform/aquaform/pkg/schema"
	"gopkg.in/yaml.v3"
)

func scalar(v string) *Scalar { return &Scalar{Value: v} }

func boolPtr(b bool) *bool { return &b }

// ExampleDocument returns the users/posts/comments sample for kind.
func ExampleDocument(kind schema.Kind) (keys []string, doc *Document) {
	idType, idDefault := "UUID", scalar("gen_random_uuid()")
	tsType := "TIMESTAMPTZ"
	hints := ConnectionHints{URL: "${SUPABASE_URL}", Key: "${SUPABASE_KEY}"}
	var idModifiers []string
	if kind == schema.KindSQLTable {
		idType, idDefault = "INT", nil
		tsType = "TIMESTAMP"
		hints = ConnectionHints{
			Host:     "${MYSQL_HOST}",
			User:     "${MYSQL_USER}",
			Password: "${MYSQL_PASSWORD}",
			Database: "${MYSQL_DATABASE}",
		}
		idModifiers = []string{string(schema.ModifierAutoIncrement)}
	}
	refType := idType

	id := ColumnConfig{Name: "id", Type: idType, Nullable: boolPtr(false), Default: idDefault, Modifiers: idModifiers}
	createdAt := ColumnConfig{Name: "created_at", Type: tsType, Nullable: boolPtr(false), Default: scalar("CURRENT_TIMESTAMP")}
	cascade := func(col, table string) ForeignKeyConfig {
		return ForeignKeyConfig{
			Columns:          StringList{col},
			ReferenceTable:   table,
			ReferenceColumns: StringList{"id"},
			OnDelete:         string(schema.ActionCascade),
			OnUpdate:         string(schema.ActionCascade),
		}
	}

	doc = &Document{Resources: map[string]ResourceConfig{
		"users_table": {
			Name: "users",
			Type: string(kind),
			Columns: []ColumnConfig{
				id,
				{Name: "email", Type: "VARCHAR(255)", Nullable: boolPtr(false)},
				{Name: "full_name", Type: "VARCHAR(100)", Nullable: boolPtr(true)},
				{Name: "status", Type: "VARCHAR(20)", Nullable: boolPtr(false), Default: scalar("'active'")},
				createdAt,
			},
			PrimaryKey:      StringList{"id"},
			ConnectionHints: hints,
		},
		"posts_table": {
			Name: "posts",
			Type: string(kind),
			Columns: []ColumnConfig{
				id,
				{Name: "user_id", Type: refType, Nullable: boolPtr(false)},
				{Name: "title", Type: "VARCHAR(200)", Nullable: boolPtr(false)},
				{Name: "content", Type: "TEXT", Nullable: boolPtr(true)},
				{Name: "status", Type: "VARCHAR(20)", Nullable: boolPtr(false), Default: scalar("'draft'")},
				{Name: "published_at", Type: tsType, Nullable: boolPtr(true)},
				createdAt,
			},
			PrimaryKey:      StringList{"id"},
			ForeignKeys:     []ForeignKeyConfig{cascade("user_id", "users")},
			ConnectionHints: hints,
		},
		"comments_table": {
			Name: "comments",
			Type: string(kind),
			Columns: []ColumnConfig{
				id,
				{Name: "post_id", Type: refType, Nullable: boolPtr(false)},
				{Name: "user_id", Type: refType, Nullable: boolPtr(false)},
				{Name: "content", Type: "TEXT", Nullable: boolPtr(false)},
				createdAt,
			},
			PrimaryKey:      StringList{"id"},
			ForeignKeys:     []ForeignKeyConfig{cascade("post_id", "posts"), cascade("user_id", "users")},
			ConnectionHints: hints,
		},
	}}
	return []string{"users_table", "posts_table", "comments_table"}, doc
}

// MarshalModel renders the example document for kind as YAML, keeping the
// resources in dependency order.
func MarshalModel(kind schema.Kind) ([]byte, error) {
	keys, doc := ExampleDocument(kind)

	resources := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range keys {
		var value yaml.Node
		if err := value.Encode(doc.Resources[key]); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", key, err)
		}
		resources.Content = append(resources.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key}, &value)
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "resources"}, resources,
	}}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
