// Package edge implements the cookie-only routing gate that runs before any
// page handler. It never performs network or database calls: the only inputs
// are the request URL and the EdgeSignal cookie, so a forged or stale signal
// passes. The authoritative check lives in package guard.
package edge

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/connect-commerce/connect-admin/internal/session"
)

// RouteClass classifies a request path.
type RouteClass int

const (
	// Neutral paths are neither public nor protected.
	Neutral RouteClass = iota
	// Public paths are only meant for signed-out visitors.
	Public
	// Protected paths require a session.
	Protected
)

func (c RouteClass) String() string {
	switch c {
	case Public:
		return "public"
	case Protected:
		return "protected"
	default:
		return "neutral"
	}
}

// Action is the outcome of a gate decision.
type Action int

const (
	// Continue lets the request through.
	Continue Action = iota
	// Redirect sends the browser to Decision.Location.
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "continue"
}

// Decision is what the gate decided for one request.
type Decision struct {
	Action   Action
	Location string
	Class    RouteClass
	Excluded bool
}

// Config lists the routes the gate knows about.
type Config struct {
	ProtectedPrefixes []string
	PublicPrefixes    []string
	LoginPath         string
	RegisterPath      string
	LandingPath       string
	// ExcludedPrefixes pass straight through, as do paths with a file extension.
	ExcludedPrefixes []string
	ExcludedPaths    []string
}

// DefaultConfig returns the dashboard route table.
func DefaultConfig() Config {
	return Config{
		ProtectedPrefixes: []string{"/dashboard", "/products", "/orders", "/resellers", "/users", "/quotes", "/settings"},
		PublicPrefixes:    []string{"/login", "/register"},
		LoginPath:         "/login",
		RegisterPath:      "/register",
		LandingPath:       "/dashboard",
		ExcludedPrefixes:  []string{"/api", "/static", "/images"},
		ExcludedPaths:     []string{"/favicon.ico"},
	}
}

// Observer receives every decision, typically for metrics.
type Observer interface {
	ObserveGate(class RouteClass, action Action)
}

// ErrOverlappingRoutes is returned when a prefix is both public and protected.
var ErrOverlappingRoutes = errors.New("edge: public and protected prefixes overlap")

// Gate classifies paths and decides redirects from the EdgeSignal alone.
type Gate struct {
	cfg      Config
	observer Observer
}

// NewGate validates cfg and constructs a Gate.
func NewGate(cfg Config, observer Observer) (*Gate, error) {
	cfg.ProtectedPrefixes = normalizePrefixes(cfg.ProtectedPrefixes)
	cfg.PublicPrefixes = normalizePrefixes(cfg.PublicPrefixes)
	cfg.ExcludedPrefixes = normalizePrefixes(cfg.ExcludedPrefixes)
	if register := normalizePrefixes([]string{cfg.RegisterPath}); len(register) == 1 {
		cfg.RegisterPath = register[0]
	}
	if cfg.LoginPath == "" || cfg.LandingPath == "" {
		return nil, errors.New("edge: login and landing paths are required")
	}
	for _, pub := range cfg.PublicPrefixes {
		for _, prot := range cfg.ProtectedPrefixes {
			if matchPrefix(pub, prot) || matchPrefix(prot, pub) {
				return nil, fmt.Errorf("%w: %s / %s", ErrOverlappingRoutes, pub, prot)
			}
		}
	}
	return &Gate{cfg: cfg, observer: observer}, nil
}

// Classify maps a path to exactly one RouteClass.
func (g *Gate) Classify(p string) RouteClass {
	for _, prefix := range g.cfg.ProtectedPrefixes {
		if matchPrefix(p, prefix) {
			return Protected
		}
	}
	for _, prefix := range g.cfg.PublicPrefixes {
		if matchPrefix(p, prefix) {
			return Public
		}
	}
	return Neutral
}

// Excluded reports whether the gate must not intercept p.
func (g *Gate) Excluded(p string) bool {
	for _, exact := range g.cfg.ExcludedPaths {
		if p == exact {
			return true
		}
	}
	for _, prefix := range g.cfg.ExcludedPrefixes {
		if matchPrefix(p, prefix) {
			return true
		}
	}
	return path.Ext(p) != ""
}

// Decide applies the routing rules to a path and the signal.
// The register path is exempt from the signed-in redirect while the login path
// is not; that asymmetry lets a signed-in admin create another account.
func (g *Gate) Decide(p string, signal session.EdgeSignal) Decision {
	if g.Excluded(p) {
		return Decision{Action: Continue, Excluded: true}
	}
	class := g.Classify(p)
	switch {
	case class == Protected && !bool(signal):
		return Decision{Action: Redirect, Location: LoginURL(g.cfg.LoginPath, p), Class: class}
	case class == Public && bool(signal) && !matchPrefix(p, g.cfg.RegisterPath):
		return Decision{Action: Redirect, Location: g.cfg.LandingPath, Class: class}
	default:
		return Decision{Action: Continue, Class: class}
	}
}

// Middleware runs the gate in front of next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Decide(r.URL.Path, session.ReadEdgeSignal(r))
		if g.observer != nil && !decision.Excluded {
			g.observer.ObserveGate(decision.Class, decision.Action)
		}
		if decision.Action == Redirect {
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoginURL builds the login location carrying the return target.
func LoginURL(loginPath, returnTo string) string {
	if returnTo == "" {
		return loginPath
	}
	return loginPath + "?" + url.Values{"redirect": {returnTo}}.Encode()
}

// matchPrefix matches whole path segments: "/orders" matches "/orders" and
// "/orders/7" but not "/ordersx".
func matchPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if len(p) > 1 {
			p = strings.TrimRight(p, "/")
		}
		out = append(out, p)
	}
	return out
}
