package session

import (
	"net/http"
	"time"
)

const (
	// EdgeSignalCookie names the cookie carrying the routing hint.
	EdgeSignalCookie = "connect-admin-auth"
	// EdgeSignalMaxAge is how long a set signal survives in the browser.
	EdgeSignalMaxAge = 7 * 24 * time.Hour

	edgeSignalValue = "true"
)

// EdgeSignal is a cheap, forgeable hint that the browser went through a login.
// It is derived from the Store and may lag behind it; it never authorizes anything.
type EdgeSignal bool

// ReadEdgeSignal inspects the request cookie jar only.
func ReadEdgeSignal(r *http.Request) EdgeSignal {
	if r == nil {
		return false
	}
	cookie, err := r.Cookie(EdgeSignalCookie)
	if err != nil {
		return false
	}
	return cookie.Value == edgeSignalValue
}

func edgeSignalSetCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     EdgeSignalCookie,
		Value:    edgeSignalValue,
		Path:     "/",
		MaxAge:   int(EdgeSignalMaxAge / time.Second),
		Expires:  time.Now().Add(EdgeSignalMaxAge),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func edgeSignalClearCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     EdgeSignalCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
