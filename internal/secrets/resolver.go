// Package secrets resolves provider credentials.
//
// Resolution order:
//  1. the non-blank credential stored on the provider record
//  2. environment-style keys derived from the provider code, in order:
//     {CODE}_API_KEY, {CODE}_KEY, {CODE}_TOKEN
//
// The result, including "absent", is memoized per Resolver. Each adapter owns
// one Resolver, so dropping an adapter also drops its cached credential.
package secrets

import (
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog/log"
)

// LookupFunc reports the value stored under key, if any.
type LookupFunc func(key string) (string, bool)

// Resolver is a memoized credential lookup for a single provider.
type Resolver struct {
	stored string
	code   string
	lookup LookupFunc

	once  sync.Once
	value string
	found bool
}

// NewResolver creates a resolver for a provider's stored credential and code.
// A nil lookup disables the environment fallback.
func NewResolver(stored, code string, lookup LookupFunc) *Resolver {
	return &Resolver{stored: stored, code: code, lookup: lookup}
}

// Resolve returns the credential and whether one was found. The first call
// does the work; later calls return the cached result.
func (r *Resolver) Resolve() (string, bool) {
	r.once.Do(func() {
		r.value, r.found = r.resolve()
		if !r.found {
			log.Debug().Str("provider", r.code).Msg("secrets: no credential found")
		}
	})
	return r.value, r.found
}

func (r *Resolver) resolve() (string, bool) {
	if v := strings.TrimSpace(r.stored); v != "" {
		return v, true
	}
	if r.lookup == nil {
		return "", false
	}
	for _, key := range CandidateKeys(r.code) {
		if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
			log.Debug().Str("provider", r.code).Str("key", key).Msg("secrets: credential resolved from environment")
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// CandidateKeys derives the ordered environment key names for a provider code.
// Characters outside [A-Za-z0-9] become underscores: "open-router" → OPEN_ROUTER_API_KEY.
func CandidateKeys(code string) []string {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	prefix := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, code)
	return []string{prefix + "_API_KEY", prefix + "_KEY", prefix + "_TOKEN"}
}
