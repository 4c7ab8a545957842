package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Group buckets endpoints that share a quota. Clients are tracked per
// group, not per endpoint, so hammering one route exhausts the whole
// group.
type Group string

const (
	GroupAuth    Group = "auth"
	GroupCalls   Group = "calls"
	GroupPatient Group = "patient"
	GroupDefault Group = "default"
)

// Rule is the quota for one group: at most Limit requests per Window.
type Rule struct {
	Limit  int64
	Window time.Duration
}

var rules = map[Group]Rule{
	GroupAuth:    {Limit: 5, Window: 300 * time.Second},
	GroupCalls:   {Limit: 10, Window: 60 * time.Second},
	GroupPatient: {Limit: 5, Window: 300 * time.Second},
	GroupDefault: {Limit: 60, Window: 60 * time.Second},
}

// RuleFor returns the quota for a group, falling back to the default
// group for anything unknown.
func RuleFor(group Group) Rule {
	if rule, ok := rules[group]; ok {
		return rule
	}
	return rules[GroupDefault]
}

// GroupForPath maps a request path to its quota group.
func GroupForPath(path string) Group {
	switch {
	case strings.HasPrefix(path, "/v1/auth"):
		return GroupAuth
	case strings.HasPrefix(path, "/v1/patient"):
		return GroupPatient
	case strings.HasPrefix(path, "/v1/calls"):
		return GroupCalls
	default:
		return GroupDefault
	}
}

// Decision is the outcome of one admission check. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits or rejects a request from clientKey against the
// group's quota.
type Limiter interface {
	Admit(ctx context.Context, clientKey string, group Group) (Decision, error)
}
