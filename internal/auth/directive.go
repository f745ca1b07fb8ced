package auth

import (
	"github.com/offsoc/copr/internal/directory"
)

// Directive tells the HTTP layer where to send the browser next.
// Backends return directives instead of writing responses themselves.
type Directive struct {
	RedirectURL string

	// Flash is a user-visible message to show on the next page.
	Flash *Flash

	// Pending is set when control transfers to an external provider and
	// the exchange must be resumed later by a callback.
	Pending *PendingExchange
}

// Flash categories.
const (
	FlashError   = "error"
	FlashSuccess = "success"
)

type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// PendingExchange is what the callback needs to resume a federated login.
type PendingExchange struct {
	State        string
	CodeVerifier string
	Next         string
}

// LoginRequest is the input of InitiateLogin.
type LoginRequest struct {
	// CurrentUser is the already authenticated user, if any.
	CurrentUser *directory.User

	// Next is the requested post-login target; unsafe values fall back to
	// the default page.
	Next string
}

// Outcome classifies a completed login.
type Outcome string

const (
	OutcomeLoggedIn Outcome = "logged_in"

	// OutcomeDenied: the allow-list rejected the username.
	OutcomeDenied Outcome = "denied"

	// OutcomeRefused: the backend would not provision an unknown user.
	OutcomeRefused Outcome = "refused"
)

// LoginResult is the explicit result of CompleteLogin. User is only set
// for OutcomeLoggedIn.
type LoginResult struct {
	Outcome  Outcome
	Username string
	User     *directory.User
}
