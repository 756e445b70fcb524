package policy

// DefaultMaxIdentifierLength is the PostgreSQL identifier limit. MySQL allows
// 64, so the stricter value keeps documents portable.
const DefaultMaxIdentifierLength = 63

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		destructiveChangesPolicy(),
		identifierLengthPolicy(),
	}
}

// destructiveChangesPolicy flags actions that can lose data.
func destructiveChangesPolicy() Policy {
	return Policy{
		Name:        "destructive-changes",
		Description: "Warns about actions that drop tables, columns or change column definitions",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package aquaform.policies.destructive

import rego.v1

deny contains violation if {
	some action in input.plan.actions
	action.destructive
	action.reason
	violation := {
		"message": sprintf("%s on %s can lose data (%s)", [action.type, action.resource, action.reason]),
		"severity": "warning",
		"resource": action.resource,
	}
}

deny contains violation if {
	some action in input.plan.actions
	action.destructive
	not action.reason
	violation := {
		"message": sprintf("%s on %s can lose data", [action.type, action.resource]),
		"severity": "warning",
		"resource": action.resource,
	}
}

deny contains violation if {
	input.plan.destroy
	not input.plan.target
	count(input.plan.actions) > 0
	violation := {
		"message": sprintf("destroy removes all %d managed table(s)", [count(input.plan.actions)]),
		"severity": "warning",
	}
}`,
	}
}

// identifierLengthPolicy rejects names the database would truncate or
// refuse.
func identifierLengthPolicy() Policy {
	return Policy{
		Name:        "identifier-length",
		Description: "Rejects table and column names longer than the database identifier limit",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package aquaform.policies.identifiers

import rego.v1

max_length := input.context.max_identifier_length if {
	input.context.max_identifier_length > 0
} else := 63

deny contains violation if {
	some action in input.plan.actions
	action.type == "create_table"
	count(action.resource) > max_length
	violation := {
		"message": sprintf("table name %q is %d characters, the limit is %d", [action.resource, count(action.resource), max_length]),
		"severity": "error",
		"resource": action.resource,
	}
}

deny contains violation if {
	some action in input.plan.actions
	action.type == "create_table"
	some column in action.table.columns
	count(column.name) > max_length
	violation := {
		"message": sprintf("column name %q is %d characters, the limit is %d", [column.name, count(column.name), max_length]),
		"severity": "error",
		"resource": action.resource,
	}
}

deny contains violation if {
	some action in input.plan.actions
	action.type in {"add_column", "alter_column"}
	count(action.column.name) > max_length
	violation := {
		"message": sprintf("column name %q is %d characters, the limit is %d", [action.column.name, count(action.column.name), max_length]),
		"severity": "error",
		"resource": action.resource,
	}
}`,
	}
}
