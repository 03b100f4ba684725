package bartender

import (
	"context"
	"strings"

	"github.com/marmos91/bartender/pkg/catalog"
)

// Action is what a sub-request is about to do to an entry.
type Action string

const (
	ActionRead           Action = "read"
	ActionAddEntry       Action = "addEntry"
	ActionRemoveEntry    Action = "removeEntry"
	ActionDelete         Action = "delete"
	ActionModifyPolicy   Action = "modifyPolicy"
	ActionModifyStates   Action = "modifyStates"
	ActionModifyMetadata Action = "modifyMetadata"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	Permit Decision = iota
	Deny
)

// Authorizer decides whether the caller in ctx may perform action on the
// entry described by md. It is called once per sub-request, with the
// metadata the sub-request resolved; results are never cached.
type Authorizer interface {
	Decide(ctx context.Context, md *catalog.Metadata, action Action) Decision
}

// PermitAll permits every action.
type PermitAll struct{}

// Decide implements Authorizer.
func (PermitAll) Decide(context.Context, *catalog.Metadata, Action) Decision {
	return Permit
}

type identityKey struct{}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the caller identity, or "" if none is set.
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}

// PolicyAllKey is the policy property that applies to every identity.
const PolicyAllKey = "ALL"

// PolicyAuthorizer evaluates the policy section of an entry.
//
// Each policy property maps an identity to a space separated list of
// "+action" and "-action" tokens. The caller's own rule is consulted
// first, then the ALL rule; the first rule naming the action decides.
// An entry without any policy permits everything; an entry with a policy
// denies every action no rule grants.
type PolicyAuthorizer struct{}

// Decide implements Authorizer.
func (PolicyAuthorizer) Decide(ctx context.Context, md *catalog.Metadata, action Action) Decision {
	if md == nil || len(md.Policy) == 0 {
		return Permit
	}

	identity := IdentityFromContext(ctx)
	rules := []string{}
	if rule, ok := md.Policy[identity]; ok && identity != "" {
		rules = append(rules, rule)
	}
	if rule, ok := md.Policy[PolicyAllKey]; ok {
		rules = append(rules, rule)
	}

	for _, rule := range rules {
		if decision, ok := evaluateRule(rule, action); ok {
			return decision
		}
	}
	return Deny
}

// evaluateRule reports the decision a rule makes about action, if any.
// A rule naming the action both ways denies.
func evaluateRule(rule string, action Action) (Decision, bool) {
	granted, revoked := false, false
	for _, token := range strings.Fields(rule) {
		if len(token) < 2 {
			continue
		}
		if Action(token[1:]) != action {
			continue
		}
		switch token[0] {
		case '+':
			granted = true
		case '-':
			revoked = true
		}
	}
	switch {
	case revoked:
		return Deny, true
	case granted:
		return Permit, true
	default:
		return Deny, false
	}
}

// actionForSection maps the section a modify request touches to the
// action it needs.
func actionForSection(section string) Action {
	switch section {
	case catalog.SectionPolicy:
		return ActionModifyPolicy
	case catalog.SectionStates:
		return ActionModifyStates
	default:
		return ActionModifyMetadata
	}
}
