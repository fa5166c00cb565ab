// Package profile holds guardian configuration and the authorization gate.
package profile

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"piggybank/internal/core"

	"github.com/shopspring/decimal"
)

// Authorizer decides whether a supplied secret matches the stored one.
type Authorizer interface {
	Authorize(stored, supplied string) bool
}

// PlainAuthorizer compares secrets with plain equality. It is a capability
// check for a shared family device, not a security boundary.
type PlainAuthorizer struct{}

func (PlainAuthorizer) Authorize(stored, supplied string) bool {
	return stored != "" && stored == supplied
}

// Store owns a Profile. Not safe for concurrent use.
type Store struct {
	profile core.Profile
	auth    Authorizer
}

// New wraps a copy of p. A nil auth falls back to PlainAuthorizer.
func New(p core.Profile, auth Authorizer) *Store {
	if auth == nil {
		auth = PlainAuthorizer{}
	}
	return &Store{profile: p.Clone(), auth: auth}
}

func (s *Store) Authorize(supplied string) bool {
	return s.auth.Authorize(s.profile.Secret, supplied)
}

// Profile returns a copy including the secret.
func (s *Store) Profile() core.Profile {
	return s.profile.Clone()
}

// Redacted returns a copy safe to hand to clients.
func (s *Store) Redacted() core.Profile {
	p := s.profile.Clone()
	p.Secret = ""
	return p
}

func (s *Store) Rates() core.RateTable {
	return s.profile.Rates.Clone()
}

func (s *Store) Rate(termMonths int) (decimal.Decimal, error) {
	r, err := s.profile.Rates.Rate(termMonths)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %d months", err, termMonths)
	}
	return r, nil
}

// UpdateRates merges table into the configured rates. Terms absent from
// table keep their rate. Existing deposits are unaffected since they carry
// their own rate.
func (s *Store) UpdateRates(table core.RateTable, secret string) error {
	if !s.Authorize(secret) {
		return core.ErrUnauthorized
	}
	if err := table.Validate(); err != nil {
		return err
	}
	merged := s.profile.Rates.Clone()
	for term, r := range table {
		merged[term] = r
	}
	s.profile.Rates = merged
	return nil
}

// UpdateNames changes the display names.
func (s *Store) UpdateNames(parentName, childName, secret string) error {
	if !s.Authorize(secret) {
		return core.ErrUnauthorized
	}
	parentName, childName = strings.TrimSpace(parentName), strings.TrimSpace(childName)
	if utf8.RuneCountInString(parentName) > core.MaxTitleLength || utf8.RuneCountInString(childName) > core.MaxTitleLength {
		return fmt.Errorf("%w: name too long", core.ErrInvalidInput)
	}
	s.profile.ParentName = parentName
	s.profile.ChildName = childName
	return nil
}

// ChangeSecret replaces the secret when current matches.
func (s *Store) ChangeSecret(current, next string) error {
	if !s.Authorize(current) {
		return core.ErrUnauthorized
	}
	if utf8.RuneCountInString(strings.TrimSpace(next)) < core.MinSecretLength {
		return core.ErrInvalidSecret
	}
	s.profile.Secret = next
	return nil
}
