package models

import (
	"slices"
	"strings"

	dErrors "ehrconsent/pkg/domain-errors"
)

// Scope is a named category of EHR data a consent grant covers.
// Invariant: the value is one of the supported scopes; construct it with
// ParseScope at trust boundaries, direct casting bypasses validation.
type Scope string

const (
	ScopeProfile        Scope = "profile"
	ScopeMedicalHistory Scope = "medical_history"
	ScopePrescriptions  Scope = "prescriptions"
	ScopeTestReports    Scope = "test_reports"
	ScopeIoTDevices     Scope = "iot_devices"
)

var validScopes = map[Scope]bool{
	ScopeProfile:        true,
	ScopeMedicalHistory: true,
	ScopePrescriptions:  true,
	ScopeTestReports:    true,
	ScopeIoTDevices:     true,
}

// AllScopes lists the supported scopes in canonical order.
func AllScopes() []Scope {
	return []Scope{ScopeProfile, ScopeMedicalHistory, ScopePrescriptions, ScopeTestReports, ScopeIoTDevices}
}

// ParseScope validates a single scope from external input.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	if scope == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "scope cannot be empty")
	}
	if !scope.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "unsupported scope: "+string(scope))
	}
	return scope, nil
}

// IsValid checks if the scope is one of the supported values.
func (s Scope) IsValid() bool {
	return validScopes[s]
}

func (s Scope) String() string {
	return string(s)
}

// ScopeSet is a non-empty, duplicate-free, canonically sorted set of scopes.
type ScopeSet []Scope

// ParseScopes validates a requested scope list. Duplicates collapse and order is
// irrelevant; an empty result or any unsupported value is rejected.
func ParseScopes(values []string) (ScopeSet, error) {
	seen := make(map[Scope]struct{}, len(values))
	set := make(ScopeSet, 0, len(values))
	for _, v := range values {
		scope, err := ParseScope(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		set = append(set, scope)
	}
	if len(set) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "scope must not be empty")
	}
	slices.Sort(set)
	return set, nil
}

// NewScopeSet normalizes already-typed scopes, rejecting unsupported values.
func NewScopeSet(scopes ...Scope) (ScopeSet, error) {
	values := make([]string, len(scopes))
	for i, s := range scopes {
		values[i] = string(s)
	}
	return ParseScopes(values)
}

// Contains reports whether scope is part of the set.
func (s ScopeSet) Contains(scope Scope) bool {
	return slices.Contains(s, scope)
}

// IsSubsetOf reports whether every scope in s is in other.
func (s ScopeSet) IsSubsetOf(other ScopeSet) bool {
	for _, scope := range s {
		if !other.Contains(scope) {
			return false
		}
	}
	return true
}

// Strings returns the set as plain strings, for token claims and JSON.
func (s ScopeSet) Strings() []string {
	out := make([]string, len(s))
	for i, scope := range s {
		out[i] = string(scope)
	}
	return out
}
