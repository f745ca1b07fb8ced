package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/offsoc/copr/internal/auth"
)

const pkceCookieName = "__oauth_pkce"

// storePending keeps what the provider callback needs in short-lived
// cookies; nothing is written to the session before the login completes.
func (h *Handler) storePending(c *gin.Context, p *auth.PendingExchange) {
	h.setExchangeCookie(c, stateCookieName, p.State)
	h.setExchangeCookie(c, pkceCookieName, p.CodeVerifier)
	h.setExchangeCookie(c, nextCookieName, p.Next)
}

func getPKCEVerifier(c *gin.Context) string {
	return exchangeCookie(c, pkceCookieName)
}
