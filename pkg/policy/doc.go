// Package policy checks plans against Open Policy Agent (OPA) Rego policies
// before they are applied.
//
// Every policy is a Rego module that defines a deny set. Entries are either
// message strings or objects with message, severity and resource keys. The
// input document is
//
//	{
//	    "plan": <engine.Plan as JSON>,
//	    "context": {
//	        "environment": "production",
//	        "operation": "apply",
//	        "max_identifier_length": 63
//	    }
//	}
//
// A plan is rejected when any violation has error or critical severity.
//
// # Built-in Policies
//
//  1. destructive-changes (warning) flags drops and column rewrites.
//  2. identifier-length (error) rejects table and column names longer than
//     the identifier limit.
//
// # Custom Policies
//
// Custom policies are loaded from .rego files or directories. The file name
// becomes the policy name, the leading comment block its description, and a
// "# severity: <level>" comment its default severity:
//
//	# Keep production tables.
//	# severity: error
//	package team.production
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.context.environment == "production"
//	    some action in input.plan.actions
//	    action.type == "drop_table"
//	    msg := sprintf("dropping %s is not allowed", [action.resource])
//	}
//
// Engine.Watch reloads the custom policies when their files change.
package policy
