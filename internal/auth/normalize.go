package auth

import (
	"net/url"
	"strings"
)

// GroupSourceFederated labels memberships that came from the federated
// provider's teams extension.
const GroupSourceFederated = "fas_groups"

// NormalizeIdentity converts a provider identity into a short username.
//
// A URL-shaped identity such as "http://alice.id.example.com/" yields its
// host with ".<provider host>" stripped ("alice" for provider
// "https://id.example.com"). Anything without a host component, including
// strings that fail to parse, is already a username and is returned as-is.
func NormalizeIdentity(raw, providerURL string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	suffix := providerHost(providerURL)
	if suffix == "" {
		return u.Host
	}
	return strings.TrimSuffix(u.Host, "."+suffix)
}

// providerHost extracts the host of the configured provider URL. A value
// without a scheme ("example.com") is treated as a bare host.
func providerHost(providerURL string) string {
	if u, err := url.Parse(providerURL); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.Trim(providerURL, "/")
}

// ExtractGroups returns the group memberships carried by p, or nil when the
// provider sent no teams payload.
func ExtractGroups(p *Principal) *GroupMemberships {
	if p == nil || p.Teams == nil {
		return nil
	}
	names := make([]string, 0, len(p.Teams.Names))
	names = append(names, p.Teams.Names...)
	return &GroupMemberships{Source: GroupSourceFederated, Names: names}
}
