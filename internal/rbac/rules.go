package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"assessment:view",
		"session:start",
		"session:view",
		"session:answer",
		"session:submit",
		"session:abandon",
		"attempt:view-own",
		"progress:view",
		"progress:record",
		"user:change_password",
	},
	"instructor": {
		"assessment:view",
		"catalog:manage",
		"attempt:view-all",
		"progress:view-all",
		"users:bulk_upsert",
		"users:list",
	},
	"admin": {
		"*", // everything
	},
}
