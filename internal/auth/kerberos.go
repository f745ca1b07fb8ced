package auth

import (
	"context"
	"net/url"

	"github.com/offsoc/copr/internal/directory"
	"github.com/offsoc/copr/internal/logger"
	"github.com/offsoc/copr/internal/session"
)

const (
	BackendKerberos = "kerberos"

	// DefaultNegotiatePath is the endpoint performing the SPNEGO exchange.
	DefaultNegotiatePath = "/krb5/login"

	msgNoKerberosLogin = "Unable to pick krb5 login page"
)

type KerberosOptions struct {
	Directory directory.Directory
	AllowList *AllowList

	// Enabled reports whether the negotiate endpoint is configured.
	Enabled bool

	// FederatedEnabled makes the federated backend the owner of user
	// provisioning; Kerberos then refuses unknown users.
	FederatedEnabled bool

	// EmailDomain is used to synthesize the email of users provisioned by
	// Kerberos: username@EmailDomain.
	EmailDomain string

	NegotiatePath string
	DefaultPage   string
	Recorder      LoginRecorder
}

// Kerberos authenticates through a GSSAPI negotiate exchange. Tickets carry
// no email or timezone claims.
type Kerberos struct {
	base
	enabled          bool
	federatedEnabled bool
	emailDomain      string
	negotiatePath    string
	defaultPage      string
}

func NewKerberos(opts KerberosOptions) *Kerberos {
	path := opts.NegotiatePath
	if path == "" {
		path = DefaultNegotiatePath
	}
	return &Kerberos{
		base:             newBase(BackendKerberos, opts.Directory, opts.AllowList, opts.Recorder),
		enabled:          opts.Enabled,
		federatedEnabled: opts.FederatedEnabled,
		emailDomain:      opts.EmailDomain,
		negotiatePath:    path,
		defaultPage:      defaultPage(opts.DefaultPage),
	}
}

func (k *Kerberos) CurrentUsername(sess *session.Values) (string, bool) {
	username, ok := sess.Get(MarkerKerberos)
	if !ok || username == "" {
		return "", false
	}
	return username, true
}

// InitiateLogin sends the browser to the negotiate endpoint. A missing
// Kerberos configuration is reported to the user, not returned as an error.
func (k *Kerberos) InitiateLogin(req LoginRequest) (*Directive, error) {
	next := SafeNext(req.Next, k.defaultPage)
	if req.CurrentUser != nil {
		return &Directive{RedirectURL: next}, nil
	}

	if !k.enabled {
		logger.Warn("kerberos login requested but not configured", nil)
		return &Directive{
			RedirectURL: k.defaultPage,
			Flash:       &Flash{Category: FlashError, Message: msgNoKerberosLogin},
		}, nil
	}

	q := url.Values{}
	q.Set("next", next)
	return &Directive{RedirectURL: k.negotiatePath + "?" + q.Encode()}, nil
}

// CompleteLogin resumes after the negotiate endpoint accepted a ticket.
// p.Identity is the principal's username without realm.
func (k *Kerberos) CompleteLogin(ctx context.Context, sess *session.Values, p *Principal) (*LoginResult, error) {
	if p == nil || p.Identity == "" {
		return nil, ErrNoIdentity
	}
	username := p.Identity

	return k.complete(sess, username, MarkerKerberos, username, func() (*directory.User, error) {
		return k.MaterializeUser(ctx, username)
	})
}

func (k *Kerberos) Logout(sess *session.Values) {
	sess.Delete(MarkerKerberos)
}

// MaterializeUser returns the directory user for username. Unknown users
// are only provisioned when Kerberos is the sole login backend; otherwise
// (nil, nil) is returned and nothing is created.
func (k *Kerberos) MaterializeUser(ctx context.Context, username string) (*directory.User, error) {
	u, err := k.dir.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}

	// Tickets lack email and groups; leave provisioning to federated login.
	if k.federatedEnabled {
		return nil, nil
	}

	logger.Info("first login, creating a directory record", map[string]any{
		"backend":  k.name,
		"username": username,
	})
	return k.dir.Create(ctx, username, username+"@"+k.emailDomain, "")
}
