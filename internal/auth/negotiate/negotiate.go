// Package negotiate runs the SPNEGO/Kerberos ticket exchange for the
// Kerberos login endpoint.
//
// Ticket validation is done entirely by gokrb5 against the service keytab;
// this package only turns the validated client identity into a username.
package negotiate

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/jcmturner/goidentity/v6"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/offsoc/copr/internal/logger"
)

// Config locates the service keytab.
type Config struct {
	// KeytabPath is overridden by the KRB5_KTNAME environment variable.
	KeytabPath string

	// ServicePrincipal selects the keytab entry, e.g. "HTTP/frontend.example.com".
	// Empty lets gokrb5 match the ticket's server principal.
	ServicePrincipal string
}

// Negotiator validates Kerberos tickets presented via HTTP Negotiate.
type Negotiator struct {
	keytab    *keytab.Keytab
	principal string
}

// New loads the keytab.
func New(cfg Config) (*Negotiator, error) {
	path := resolveKeytabPath(cfg.KeytabPath)
	if path == "" {
		return nil, fmt.Errorf("kerberos keytab path not configured (set auth.kerberos.keytab_path or KRB5_KTNAME)")
	}

	kt, err := keytab.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", path, err)
	}

	return &Negotiator{keytab: kt, principal: cfg.ServicePrincipal}, nil
}

// LoginFunc receives the authenticated username.
type LoginFunc func(w http.ResponseWriter, r *http.Request, username string)

// Handler wraps login in the SPNEGO exchange. Requests without a valid
// ticket are answered by gokrb5 with 401 and a Negotiate challenge.
func (n *Negotiator) Handler(login LoginFunc) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := goidentity.FromHTTPRequestContext(r)
		if id == nil || !id.Authenticated() {
			http.Error(w, "kerberos authentication failed", http.StatusUnauthorized)
			return
		}
		login(w, r, Username(id.UserName()))
	})

	settings := []func(*service.Settings){
		service.Logger(log.New(logWriter{}, "", 0)),
	}
	if n.principal != "" {
		settings = append(settings, service.KeytabPrincipal(n.principal))
	}
	return spnego.SPNEGOKRB5Authenticate(inner, n.keytab, settings...)
}

// Username strips a realm suffix from a principal name.
func Username(principal string) string {
	if i := strings.LastIndex(principal, "@"); i >= 0 {
		return principal[:i]
	}
	return principal
}

func resolveKeytabPath(configured string) string {
	if env := strings.TrimPrefix(os.Getenv("KRB5_KTNAME"), "FILE:"); env != "" {
		return env
	}
	return configured
}

// logWriter forwards gokrb5's log lines to the service logger.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	logger.Debug("spnego", map[string]any{"detail": string(bytes.TrimSpace(p))})
	return len(p), nil
}
