package sqlassets

import "embed"

//go:embed schema/platform/accounts.sql
var AccountsSQL string

//go:embed schema/platform/login_challenges.sql
var LoginChallengesSQL string

//go:embed schema/platform/tenant_user_directory.sql
var TenantUserDirectorySQL string

//go:embed schema/platform/audit_events.sql
var AuditEventsSQL string

// TenantMigrations holds the versioned DDL applied to every tenant schema,
// named NNNN_description.sql and applied in lexical order.
//
//go:embed schema/tenant_space/migrations/*.sql
var TenantMigrations embed.FS
