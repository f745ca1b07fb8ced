package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/offsoc/copr/internal/directory"
	"github.com/offsoc/copr/internal/logger"
	"github.com/offsoc/copr/internal/session"
)

const (
	BackendFederated = "federated"

	// TeamsExtension requests the provider's group-membership payload;
	// AllGroups asks for every group the user belongs to.
	TeamsExtension = "teams"
	AllGroups      = "_FAS_ALL_GROUPS_"
)

// ProviderClient begins and resumes the exchange with the external
// identity provider. Implementations verify the provider's response and
// return facts only; they never create users or touch sessions.
type ProviderClient interface {
	Name() string

	// AuthCodeURL returns the provider URL the browser is sent to.
	AuthCodeURL(state, codeChallenge string, req ExchangeRequest) string

	// ExchangeCode resumes the exchange from the provider callback.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Principal, error)
}

// ExchangeRequest lists the claims asked of the provider.
type ExchangeRequest struct {
	Attributes []string
	Extensions []Extension
}

type Extension struct {
	Name   string
	Values []string
}

// DefaultExchangeRequest asks for email, timezone and all group memberships.
func DefaultExchangeRequest() ExchangeRequest {
	return ExchangeRequest{
		Attributes: []string{"email", "timezone"},
		Extensions: []Extension{{Name: TeamsExtension, Values: []string{AllGroups}}},
	}
}

type FederatedOptions struct {
	Client      ProviderClient
	Directory   directory.Directory
	AllowList   *AllowList
	ProviderURL string
	DefaultPage string
	Recorder    LoginRecorder
}

// Federated authenticates through an external OpenID-style provider. The
// provider always supplies email and timezone, so this backend provisions
// first-time users itself.
type Federated struct {
	base
	client      ProviderClient
	providerURL string
	defaultPage string
}

func NewFederated(opts FederatedOptions) *Federated {
	return &Federated{
		base:        newBase(BackendFederated, opts.Directory, opts.AllowList, opts.Recorder),
		client:      opts.Client,
		providerURL: opts.ProviderURL,
		defaultPage: defaultPage(opts.DefaultPage),
	}
}

func (f *Federated) CurrentUsername(sess *session.Values) (string, bool) {
	raw, ok := sess.Get(MarkerFederated)
	if !ok {
		return "", false
	}
	username := f.NormalizeIdentity(raw)
	return username, username != ""
}

// InitiateLogin redirects an authenticated user straight to the target;
// everyone else is sent to the provider.
func (f *Federated) InitiateLogin(req LoginRequest) (*Directive, error) {
	next := SafeNext(req.Next, f.defaultPage)
	if req.CurrentUser != nil {
		return &Directive{RedirectURL: next}, nil
	}

	pending, challenge, err := newPendingExchange(next)
	if err != nil {
		return nil, err
	}
	return &Directive{
		RedirectURL: f.client.AuthCodeURL(pending.State, challenge, DefaultExchangeRequest()),
		Pending:     pending,
	}, nil
}

func (f *Federated) CompleteLogin(ctx context.Context, sess *session.Values, p *Principal) (*LoginResult, error) {
	if p == nil || p.Identity == "" {
		return nil, ErrNoIdentity
	}
	username := f.NormalizeIdentity(p.Identity)

	return f.complete(sess, username, MarkerFederated, p.Identity, func() (*directory.User, error) {
		u, err := f.MaterializeUser(ctx, p)
		if err != nil || u == nil {
			return u, err
		}
		// A failure here leaves a created user without groups and the
		// session anonymous; the next login finds the user and retries.
		if groups := f.ExtractGroups(p); groups != nil {
			if err := f.dir.SetGroups(ctx, u.Username, groups.Names); err != nil {
				return nil, fmt.Errorf("auth: store groups of %q: %w", u.Username, err)
			}
			u.Groups = groups.Names
		}
		return u, nil
	})
}

func (f *Federated) Logout(sess *session.Values) {
	sess.Delete(MarkerFederated)
}

// NormalizeIdentity strips the provider host from an identity URL.
func (f *Federated) NormalizeIdentity(raw string) string {
	return NormalizeIdentity(raw, f.providerURL)
}

// MaterializeUser returns the directory user for p, creating it on first
// login. The provider is the source of truth for email and timezone, so an
// existing user is refreshed on every login.
func (f *Federated) MaterializeUser(ctx context.Context, p *Principal) (*directory.User, error) {
	if p == nil {
		return nil, errors.New("auth: nil principal")
	}
	username := f.NormalizeIdentity(p.Identity)

	u, err := f.dir.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}

	if u == nil {
		logger.Info("first login, creating a directory record", map[string]any{
			"backend":  f.name,
			"username": username,
		})
		return f.dir.Create(ctx, username, p.Email, p.Timezone)
	}

	if u.Email == p.Email && u.Timezone == p.Timezone {
		return u, nil
	}
	u.Email = p.Email
	u.Timezone = p.Timezone
	if err := f.dir.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ExtractGroups returns the memberships from the teams payload, or nil
// when the provider sent none.
func (f *Federated) ExtractGroups(p *Principal) *GroupMemberships {
	return ExtractGroups(p)
}

// Client exposes the provider client for the callback handler.
func (f *Federated) Client() ProviderClient {
	return f.client
}

func defaultPage(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
