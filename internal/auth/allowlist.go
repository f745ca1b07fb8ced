package auth

// AllowList gates which usernames may log in, whichever backend resolved
// them. It is built once at start-up and read-only afterwards.
type AllowList struct {
	enforce bool
	users   map[string]struct{}
}

func NewAllowList(enforce bool, users []string) *AllowList {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u != "" {
			set[u] = struct{}{}
		}
	}
	return &AllowList{enforce: enforce, users: set}
}

// Allowed reports whether username may proceed. An empty username is never
// allowed. A nil or non-enforcing list allows every other name.
func (a *AllowList) Allowed(username string) bool {
	if username == "" {
		return false
	}
	if a == nil || !a.enforce {
		return true
	}
	_, ok := a.users[username]
	return ok
}
