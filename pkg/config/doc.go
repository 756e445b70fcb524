// Package config loads desired-state documents and tool settings.
//
// # Documents
//
// A document declares tables under a resources mapping. YAML and CUE are
// both accepted; CUE files are unified with a built-in #Document schema
// before they are decoded, so type errors are reported with file positions.
//
//	resources:
//	  users:
//	    type: sql_table
//	    columns:
//	      - {name: id, type: INT, nullable: false, modifiers: [auto_increment]}
//	      - {name: email, type: VARCHAR(255), nullable: false}
//	    primary_key: id
//
// The table name defaults to the resource key, nullable defaults to true and
// primary_key may be a bare string. ${VAR} references in string values are
// expanded from the environment; unset variables are kept as written.
//
// Several documents may be loaded together. Declaring the same table in two
// of them is a validation error, as is any other document problem; all
// problems are collected into one *schema.ValidationError.
//
// # Settings
//
// LoadSettings resolves the tool configuration with koanf from, in order of
// precedence: AQUAFORM_* environment variables, a dotenv file, aquaform.yaml
// and built-in defaults. Command-line flags are applied by the caller.
//
//	sql:
//	  dialect: postgres
//	  dsn: postgres://app@localhost:5432/app
//	log:
//	  level: debug
//	metrics:
//	  textfile: /var/lib/node_exporter/aquaform.prom
package config
