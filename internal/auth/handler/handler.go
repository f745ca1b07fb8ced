package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/offsoc/copr/internal/auth"
	"github.com/offsoc/copr/internal/auth/negotiate"
	"github.com/offsoc/copr/internal/logger"
	"github.com/offsoc/copr/internal/middleware"
)

// Negotiator runs the Kerberos ticket exchange around a login callback.
type Negotiator interface {
	Handler(login negotiate.LoginFunc) http.Handler
}

// LogoutRecorder observes logouts.
type LogoutRecorder interface {
	RecordLogout()
}

type Options struct {
	Registry      *auth.Registry
	Sessions      *middleware.Sessions
	Negotiator    Negotiator // nil when Kerberos login is not configured
	DefaultPage   string
	SecureCookies bool
	Recorder      LogoutRecorder
}

type Handler struct {
	registry      *auth.Registry
	sessions      *middleware.Sessions
	negotiator    Negotiator
	defaultPage   string
	secureCookies bool
	recorder      LogoutRecorder
}

func NewHandler(opts Options) *Handler {
	page := opts.DefaultPage
	if page == "" {
		page = "/"
	}
	return &Handler{
		registry:      opts.Registry,
		sessions:      opts.Sessions,
		negotiator:    opts.Negotiator,
		defaultPage:   page,
		secureCookies: opts.SecureCookies,
		recorder:      opts.Recorder,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/login", h.login)
	r.GET("/oauth/callback", h.callback)
	r.GET("/logout", h.logout)
	r.POST("/auth/logout", h.Logout)
	if h.negotiator != nil {
		r.GET(auth.DefaultNegotiatePath, h.krb5Login)
	}
}

func (h *Handler) login(c *gin.Context) {
	d, err := h.registry.Primary().InitiateLogin(auth.LoginRequest{
		CurrentUser: middleware.UserFrom(c),
		Next:        c.Query("next"),
	})
	if err != nil {
		logger.Error("initiate login failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login unavailable"})
		return
	}

	h.apply(c, d)
}

// apply turns a backend directive into the HTTP response.
func (h *Handler) apply(c *gin.Context, d *auth.Directive) {
	if d.Flash != nil {
		addFlash(middleware.SessionFrom(c), *d.Flash)
	}
	if d.Pending != nil {
		h.storePending(c, d.Pending)
	}
	h.redirect(c, d.RedirectURL)
}

func (h *Handler) redirect(c *gin.Context, target string) {
	if err := h.sessions.Save(c); err != nil {
		logger.Error("session save failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist session"})
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) federated() (*auth.Federated, bool) {
	b, err := h.registry.Get(auth.BackendFederated)
	if err != nil {
		return nil, false
	}
	f, ok := b.(*auth.Federated)
	return f, ok
}

func (h *Handler) callback(c *gin.Context) {
	backend, ok := h.federated()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "federated login is not enabled"})
		return
	}

	if !validateState(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid state"})
		return
	}

	next := auth.SafeNext(exchangeCookie(c, nextCookieName), h.defaultPage)
	verifier := getPKCEVerifier(c)
	h.clearExchangeCookies(c)
	sess := middleware.SessionFrom(c)

	// The provider refused or the user cancelled: stay anonymous.
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("oidc callback returned error", map[string]any{
			"error": errParam,
			"desc":  c.Query("error_description"),
		})
		addFlash(sess, auth.Flash{Category: auth.FlashError, Message: "Login was not completed by the identity provider"})
		h.redirect(c, h.defaultPage)
		return
	}

	code := c.Query("code")
	if code == "" {
		logger.Error("oidc callback missing code and error", nil)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if verifier == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing pkce verifier"})
		return
	}

	principal, err := backend.Client().ExchangeCode(c.Request.Context(), code, verifier)
	if err != nil {
		logger.Warn("oidc exchange failed", map[string]any{"error": err.Error()})
		addFlash(sess, auth.Flash{Category: auth.FlashError, Message: "Authentication failed"})
		h.redirect(c, h.defaultPage)
		return
	}

	h.finish(c, backend, principal, next)
}

func (h *Handler) krb5Login(c *gin.Context) {
	backend, err := h.registry.Get(auth.BackendKerberos)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "kerberos login is not enabled"})
		return
	}
	next := auth.SafeNext(c.Query("next"), h.defaultPage)

	// Bridge gin to the net/http negotiate handler.
	h.negotiator.Handler(func(_ http.ResponseWriter, r *http.Request, username string) {
		c.Request = r
		if _, ok := middleware.UserFromContext(r.Context()); ok {
			h.redirect(c, next)
			return
		}
		h.finish(c, backend, &auth.Principal{Provider: auth.BackendKerberos, Identity: username}, next)
	}).ServeHTTP(c.Writer, c.Request)
}

// finish completes the login and maps the outcome to a redirect.
func (h *Handler) finish(c *gin.Context, backend auth.Backend, p *auth.Principal, next string) {
	sess := middleware.SessionFrom(c)

	result, err := backend.CompleteLogin(c.Request.Context(), sess, p)
	if err != nil {
		logger.Error("login completion failed", map[string]any{
			"backend": backend.Name(),
			"error":   err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
		return
	}

	switch result.Outcome {
	case auth.OutcomeLoggedIn:
		if err := h.sessions.Renew(c); err != nil {
			logger.Error("session renew failed", map[string]any{"error": err.Error()})
		}
		addFlash(sess, auth.Flash{
			Category: auth.FlashSuccess,
			Message:  fmt.Sprintf("Welcome, %s", result.User.Username),
		})
		logger.Info("login succeeded", map[string]any{
			"backend":  backend.Name(),
			"username": result.User.Username,
			"ip":       c.ClientIP(),
		})
		h.redirect(c, next)
	case auth.OutcomeDenied:
		addFlash(sess, auth.Flash{
			Category: auth.FlashError,
			Message:  fmt.Sprintf("User '%s' is not allowed", result.Username),
		})
		h.redirect(c, h.defaultPage)
	default:
		addFlash(sess, auth.Flash{
			Category: auth.FlashError,
			Message:  fmt.Sprintf("No account exists for '%s'; log in through the primary identity provider first", result.Username),
		})
		h.redirect(c, h.defaultPage)
	}
}

func (h *Handler) logout(c *gin.Context) {
	h.endSession(c)
	addFlash(middleware.SessionFrom(c), auth.Flash{Category: auth.FlashSuccess, Message: "You were signed out"})
	h.redirect(c, h.defaultPage)
}

// Logout is the API variant; it always answers 204.
func (h *Handler) Logout(c *gin.Context) {
	h.endSession(c)
	if err := h.sessions.Save(c); err != nil {
		logger.Error("session save failed", map[string]any{"error": err.Error()})
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) endSession(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if username, backend, ok := h.registry.CurrentUsername(sess); ok {
		logger.Info("logout", map[string]any{
			"backend":  backend,
			"username": username,
			"ip":       c.ClientIP(),
		})
	}
	h.registry.Logout(sess)
	if h.recorder != nil {
		h.recorder.RecordLogout()
	}
}

// Me describes the current user and drains pending flash messages.
func (h *Handler) Me(c *gin.Context) {
	u := middleware.UserFrom(c)
	flashes := popFlashes(middleware.SessionFrom(c))
	if flashes == nil {
		flashes = []auth.Flash{}
	}
	if err := h.sessions.Save(c); err != nil {
		logger.Error("session save failed", map[string]any{"error": err.Error()})
	}

	if u == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false, "flashes": flashes})
		return
	}
	groups := u.Groups
	if groups == nil {
		groups = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"backend":       middleware.BackendFrom(c),
		"username":      u.Username,
		"email":         u.Email,
		"timezone":      u.Timezone,
		"groups":        groups,
		"flashes":       flashes,
	})
}
