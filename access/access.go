// Package access implements the access predicate gating every read: a
// zero-arg boolean callable supplied at store construction time,
// composed with a fixed, pluggable "always-restricted" name rule.
// Unlike registry/auth's AccessController, there is no request/context
// threading, no challenge-header negotiation and no registry of named
// backends — the predicate is a plain function value, a first-class
// value rather than a monkey-patched callable, for per-read policy.
package access

import "path"

// Predicate is consulted on every read that could expose restricted
// bytes. It takes no arguments: callers bind it to a per-request user
// identity and the upload's embargo state at construction time, and the
// store never caches its result across calls.
type Predicate func() bool

// Allow is a Predicate that always grants access.
func Allow() bool { return true }

// Deny is a Predicate that always denies access.
func Deny() bool { return false }

// NamePredicate flags raw-path names that must stay restricted
// regardless of an entry's embargo flag (e.g. licensed pseudopotentials).
type NamePredicate func(rawPath string) bool

// NoneRestricted is a NamePredicate that never forces restriction.
func NoneRestricted(string) bool { return false }

// GlobNamePredicate builds a NamePredicate from a set of path.Match glob
// patterns matched against the full raw path (configuration.Storage.AlwaysRestricted),
// e.g. "*/POTCAR" for licensed pseudopotentials.
func GlobNamePredicate(patterns []string) NamePredicate {
	pats := append([]string(nil), patterns...)
	return func(rawPath string) bool {
		for _, pat := range pats {
			if ok, err := path.Match(pat, rawPath); err == nil && ok {
				return true
			}
		}
		return false
	}
}

// Require composes the user predicate with the always-restricted name
// rule for a single raw path: restricted-bucket ∨ name-predicate ⇒
// require user predicate. bucketRestricted reflects which zip/archive
// bucket (public vs restricted) the path was found in.
func Require(bucketRestricted bool, name string, alwaysRestricted NamePredicate, user Predicate) bool {
	if !bucketRestricted && (alwaysRestricted == nil || !alwaysRestricted(name)) {
		return true
	}
	if user == nil {
		return false
	}
	return user()
}
