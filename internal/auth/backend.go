package auth

import (
	"context"
	"errors"

	"github.com/offsoc/copr/internal/directory"
	"github.com/offsoc/copr/internal/logger"
	"github.com/offsoc/copr/internal/session"
)

// Session keys marking which backend authenticated the session. At most one
// is present at a time.
const (
	MarkerFederated = "openid"
	MarkerKerberos  = "krb5_login"
)

var markers = []string{MarkerFederated, MarkerKerberos}

var (
	ErrUnknownBackend = errors.New("auth: unknown backend")
	ErrNoIdentity     = errors.New("auth: principal carries no identity")
)

// Backend is one authentication strategy. Exactly one is primary per
// deployment; see Select.
//
// Login is two-phase: InitiateLogin returns a Directive that hands control
// to the external exchange, CompleteLogin resumes with the verified
// Principal once the exchange is done.
type Backend interface {
	Name() string

	// CurrentUsername reports the username recorded by this backend's
	// session marker. It never mutates the session.
	CurrentUsername(sess *session.Values) (string, bool)

	InitiateLogin(req LoginRequest) (*Directive, error)

	// CompleteLogin normalizes p, applies the allow-list, materializes the
	// user and writes the session marker. Denial and refusal are reported
	// through the result; errors are reserved for collaborator failures.
	CompleteLogin(ctx context.Context, sess *session.Values, p *Principal) (*LoginResult, error)

	// Logout removes this backend's marker. Safe on anonymous sessions.
	Logout(sess *session.Values)

	IsAllowed(username string) bool
}

// LoginRecorder observes completed logins.
type LoginRecorder interface {
	RecordLogin(backend, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string, string) {}

// base holds what both backends share.
type base struct {
	name     string
	dir      directory.Directory
	allow    *AllowList
	recorder LoginRecorder
}

func newBase(name string, dir directory.Directory, allow *AllowList, rec LoginRecorder) base {
	if rec == nil {
		rec = nopRecorder{}
	}
	return base{name: name, dir: dir, allow: allow, recorder: rec}
}

func (b *base) Name() string { return b.name }

func (b *base) IsAllowed(username string) bool {
	return b.allow.Allowed(username)
}

// complete runs the shared tail of CompleteLogin: gate, materialize, write
// the marker. materialize returning (nil, nil) means provisioning refused.
func (b *base) complete(
	sess *session.Values,
	username string,
	marker string,
	markerValue string,
	materialize func() (*directory.User, error),
) (*LoginResult, error) {
	if !b.IsAllowed(username) {
		logger.Warn("login denied by allow-list", map[string]any{
			"backend":  b.name,
			"username": username,
		})
		b.recorder.RecordLogin(b.name, string(OutcomeDenied))
		return &LoginResult{Outcome: OutcomeDenied, Username: username}, nil
	}

	u, err := materialize()
	if err != nil {
		b.recorder.RecordLogin(b.name, "error")
		return nil, err
	}
	if u == nil {
		logger.Info("login refused, user not provisioned", map[string]any{
			"backend":  b.name,
			"username": username,
		})
		b.recorder.RecordLogin(b.name, string(OutcomeRefused))
		return &LoginResult{Outcome: OutcomeRefused, Username: username}, nil
	}

	for _, m := range markers {
		if m != marker {
			sess.Delete(m)
		}
	}
	sess.Set(marker, markerValue)

	b.recorder.RecordLogin(b.name, string(OutcomeLoggedIn))
	return &LoginResult{Outcome: OutcomeLoggedIn, Username: u.Username, User: u}, nil
}
