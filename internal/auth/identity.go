package auth

// Principal is the verified identity assertion handed over by an external
// identity provider for one login exchange. It contains facts only, no
// decisions, and is never persisted as-is.
type Principal struct {
	Provider string // backend or provider name, e.g. "oidc", "kerberos"
	Identity string // provider identity: an identity URL, a subject or a bare username
	Email    string
	Timezone string

	// Teams is the group-membership extension payload. Nil means the
	// provider sent no group data at all.
	Teams *Teams
}

// Teams carries the provider's group-membership extension. Names is the
// only part the core interprets; Raw passes any other provider data
// through untouched.
type Teams struct {
	Names []string
	Raw   map[string]any
}

// GroupMemberships is the normalized result of ExtractGroups.
// A non-nil value with no Names means "member of no groups".
type GroupMemberships struct {
	Source string
	Names  []string
}
