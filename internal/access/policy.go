package access

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrInvalidPolicy  = errors.New("invalid policy")
	ErrPolicyNotFound = errors.New("policy not found")
)

// validate checks a policy definition before it is registered.
func (in PolicyInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	r := in.Rules
	if len(r.ForbiddenActions) == 0 && len(r.ForbiddenResourcePrefixes) == 0 &&
		len(r.PermittedActions) == 0 && len(r.Limits) == 0 {
		return fmt.Errorf("%w: policy %q has no rule predicates", ErrInvalidPolicy, in.Name)
	}
	for _, list := range [][]string{r.Resources, r.Actions, r.AgentTypes, r.ForbiddenActions, r.ForbiddenResourcePrefixes} {
		for _, v := range list {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("%w: policy %q contains an empty entry", ErrInvalidPolicy, in.Name)
			}
		}
	}
	for res := range r.PermittedActions {
		if strings.TrimSpace(res) == "" {
			return fmt.Errorf("%w: policy %q permits actions on an empty resource", ErrInvalidPolicy, in.Name)
		}
	}
	for key, limit := range r.Limits {
		if strings.TrimSpace(key) == "" || math.IsNaN(limit) || math.IsInf(limit, 0) {
			return fmt.Errorf("%w: policy %q has an invalid limit %q", ErrInvalidPolicy, in.Name, key)
		}
	}
	return nil
}

// request is the triple a policy is evaluated against.
type request struct {
	agentType string
	action    string
	resource  string
	context   map[string]any
}

// appliesTo reports whether the policy scope covers the request.
func (r Rules) appliesTo(req request) bool {
	return scopeMatch(r.Resources, req.resource, true) &&
		scopeMatch(r.Actions, req.action, false) &&
		scopeMatch(r.AgentTypes, req.agentType, false)
}

// violation returns a description of the first predicate the request matches.
func (r Rules) violation(req request) (string, bool) {
	if containsFold(r.ForbiddenActions, req.action) {
		return fmt.Sprintf("action %q is forbidden", req.action), true
	}
	for _, prefix := range r.ForbiddenResourcePrefixes {
		if strings.HasPrefix(req.resource, prefix) {
			return fmt.Sprintf("resource %q matches forbidden prefix %q", req.resource, prefix), true
		}
	}
	if permitted, ok := r.PermittedActions[req.resource]; ok && !containsFold(permitted, req.action) {
		return fmt.Sprintf("action %q is not permitted on %q", req.action, req.resource), true
	}
	for _, key := range sortedKeys(r.Limits) {
		v, ok := number(req.context[key])
		if ok && v > r.Limits[key] {
			return fmt.Sprintf("%s=%g exceeds limit %g", key, v, r.Limits[key]), true
		}
	}
	return "", false
}

func scopeMatch(scope []string, value string, allowPrefix bool) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		switch {
		case s == Wildcard:
			return true
		case allowPrefix && strings.HasSuffix(s, Wildcard) && strings.HasPrefix(value, strings.TrimSuffix(s, Wildcard)):
			return true
		case strings.EqualFold(s, value):
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, v) })
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
