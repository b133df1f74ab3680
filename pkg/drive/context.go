package drive

// ExecutionContext identifies the caller of a Documents operation.
type ExecutionContext struct {
	CompanyID string
	UserID    string

	// Channels lists channel ids the caller belongs to, for channel grants.
	Channels []string

	// PublicToken and PublicPassword are presented by public-link visitors.
	PublicToken    string
	PublicPassword string

	// System marks internal callers (antivirus callbacks, trash collector)
	// that bypass access control.
	System bool
}

// Anonymous reports whether the caller has no user identity.
func (c ExecutionContext) Anonymous() bool {
	return c.UserID == ""
}

// SystemContext returns an execution context for internal jobs in a tenant.
func SystemContext(companyID string) ExecutionContext {
	return ExecutionContext{CompanyID: companyID, System: true}
}
