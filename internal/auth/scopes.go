package auth

// Known OAuth scopes. Coordinator authorization (the admin scope) is issued
// by the identity collaborator; this service only checks its presence.
const (
	ScopeEnrollmentsRead  = "enrollments:read"
	ScopeEnrollmentsWrite = "enrollments:write"
	ScopeEnrollmentsAdmin = "enrollments:admin"
)
