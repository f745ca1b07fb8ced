package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/offsoc/copr/internal/auth"
	"github.com/offsoc/copr/internal/logger"
)

const (
	providerName = "oidc"

	// DefaultIdentityClaim is the human readable login name; "sub" is
	// usually an opaque ID and makes poor local usernames.
	DefaultIdentityClaim = "preferred_username"
)

// Config describes the OpenID Connect provider used for federated login.
type Config struct {
	// Issuer is the provider URL; discovery runs against it.
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// IdentityClaim names the claim holding the identity handed to the
	// normalizer. Defaults to DefaultIdentityClaim.
	IdentityClaim string

	// GroupsScope is requested for the teams extension and GroupsClaim is
	// read back from the ID token.
	GroupsScope string
	GroupsClaim string
}

// Provider implements OAuth + OIDC authentication against the federated
// identity provider. It returns identity facts only; no user/session
// decisions are made here.
type Provider struct {
	oauthConfig   *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	identityClaim string
	groupsScope   string
	groupsClaim   string
}

var _ auth.ProviderClient = (*Provider)(nil)

// New initializes the provider using OIDC discovery on cfg.Issuer.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oidc provider config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init oidc provider %s: %w", cfg.Issuer, err)
	}

	return newProvider(cfg, oidcProvider.Endpoint(), oidcProvider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})), nil
}

func newProvider(cfg Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Provider {
	p := &Provider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
		},
		verifier:      verifier,
		identityClaim: cfg.IdentityClaim,
		groupsScope:   cfg.GroupsScope,
		groupsClaim:   cfg.GroupsClaim,
	}
	if p.identityClaim == "" {
		p.identityClaim = DefaultIdentityClaim
	}
	if p.groupsClaim == "" {
		p.groupsClaim = "groups"
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// Scopes maps requested attributes and extensions to OIDC scopes.
func (p *Provider) Scopes(req auth.ExchangeRequest) []string {
	scopes := []string{oidc.ScopeOpenID}
	add := func(s string) {
		for _, have := range scopes {
			if have == s {
				return
			}
		}
		scopes = append(scopes, s)
	}

	for _, attr := range req.Attributes {
		switch attr {
		case "email":
			add("email")
		case "timezone":
			// zoneinfo is part of the standard profile scope
			add("profile")
		default:
			add(attr)
		}
	}
	for _, ext := range req.Extensions {
		if ext.Name == auth.TeamsExtension && p.groupsScope != "" {
			add(p.groupsScope)
		}
	}
	return scopes
}

// AuthCodeURL builds the OAuth authorization URL with PKCE parameters.
func (p *Provider) AuthCodeURL(state, codeChallenge string, req auth.ExchangeRequest) string {
	cfg := *p.oauthConfig
	cfg.Scopes = p.Scopes(req)

	return cfg.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode exchanges the authorization code and returns the verified
// principal. This method MUST NOT create users, sessions, or perform
// linking logic.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*auth.Principal, error) {
	token, err := p.oauthConfig.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("oidc token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("oidc provider did not return id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("oidc id_token verification failed: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc id_token claims parse failed: %w", err)
	}

	principal, err := p.principalFromClaims(claims)
	if err != nil {
		return nil, err
	}

	logger.Info("oidc verified", map[string]any{
		"issuer":        idToken.Issuer,
		"identity":      principal.Identity,
		"email_present": principal.Email != "",
		"teams_present": principal.Teams != nil,
		"expiry_unix":   idToken.Expiry.Unix(),
	})

	return principal, nil
}

// principalFromClaims converts verified ID token claims into a Principal.
func (p *Provider) principalFromClaims(claims map[string]any) (*auth.Principal, error) {
	identity := stringClaim(claims, p.identityClaim)
	if identity == "" {
		return nil, fmt.Errorf("oidc id_token missing identity claim %q", p.identityClaim)
	}

	principal := &auth.Principal{
		Provider: providerName,
		Identity: identity,
		Email:    stringClaim(claims, "email"),
		Timezone: stringClaim(claims, "zoneinfo"),
	}

	if raw, ok := claims[p.groupsClaim]; ok && raw != nil {
		names, ok := stringList(raw)
		if !ok {
			// Stored memberships stay as they are.
			logger.Warn("oidc groups claim has unexpected type, ignoring it", map[string]any{
				"claim":    p.groupsClaim,
				"identity": identity,
				"type":     fmt.Sprintf("%T", raw),
			})
			return principal, nil
		}
		principal.Teams = &auth.Teams{
			Names: names,
			Raw:   map[string]any{p.groupsClaim: raw},
		}
	}
	return principal, nil
}

func stringClaim(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return strings.TrimSpace(s)
}

// stringList accepts a JSON array of strings or a single space separated
// string. ok is false for any other type.
func stringList(v any) (names []string, ok bool) {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range t {
			if s != "" {
				out = append(out, s)
			}
		}
	case string:
		out = append(out, strings.Fields(t)...)
	default:
		return nil, false
	}
	return out, true
}
