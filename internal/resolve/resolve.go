// Package resolve applies replacement and exclusion rules to the
// contributions of a merge point and rejects duplicates.
package resolve

import (
	"fmt"
	"go/token"
	"sort"
	"strings"

	"github.com/iVampireSP/weave/internal/diag"
	"github.com/iVampireSP/weave/internal/model"
)

// Facts answers questions about types beyond the candidate set.
type Facts interface {
	ContributionsOf(id model.TypeID) []model.Contribution
	IsModule(id model.TypeID) bool
	InUniverse(id model.TypeID) bool
}

// Request describes the merge point being resolved.
type Request struct {
	Owner      model.TypeID
	Pos        token.Position
	Scopes     []model.Scope
	Exclude    []model.TypeID
	Predefined []model.TypeID
}

// Result holds the surviving contributions, sorted.
type Result struct {
	Modules       []model.TypeID
	Supertypes    []model.TypeID
	Bindings      []model.Contribution
	Subcomponents []model.Contribution
}

// Resolve filters candidates down to the contributions a merge point keeps.
// Each scope is resolved on its own and the survivors are unioned.
func Resolve(candidates []model.Contribution, req Request, facts Facts) (*Result, error) {
	var errs diag.List
	excluded := toSet(req.Exclude)
	predefined := toSet(req.Predefined)
	scopes := make(map[model.Scope]bool, len(req.Scopes))
	for _, s := range req.Scopes {
		scopes[s] = true
	}

	for _, id := range model.UniqueTypeIDs(req.Predefined) {
		if excluded[id] {
			errs = append(errs, diag.Errorf(req.Pos, req.Owner,
				"%s both includes and excludes %s", req.Owner, id))
		}
	}
	for _, id := range model.UniqueTypeIDs(req.Exclude) {
		if !contributedTo(facts.ContributionsOf(id), scopes) {
			errs = append(errs, diag.Errorf(req.Pos, req.Owner,
				"%s excludes %s, but %s isn't contributed to %s", req.Owner, id, id, scopeNames(req.Scopes)))
		}
	}
	for _, c := range candidates {
		errs = append(errs, validateReplaces(c, facts)...)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	partitions := make(map[model.Scope][]model.Contribution)
	for _, c := range candidates {
		partitions[c.GroupScope()] = append(partitions[c.GroupScope()], c)
	}
	order := make([]model.Scope, 0, len(partitions))
	for s := range partitions {
		order = append(order, s)
	}
	model.SortScopes(order)

	var survivors []model.Contribution
	for _, scope := range order {
		kept, err := resolveScope(scope, partitions[scope], excluded, predefined)
		if err != nil {
			errs = append(errs, err...)
			continue
		}
		survivors = append(survivors, kept...)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return collect(survivors), nil
}

// resolveScope removes excluded and replaced contributions of one scope.
// Replacement is direct: a replaces list only counts when its owner is
// itself kept, so with A replacing B and B replacing C both A and C stay.
func resolveScope(scope model.Scope, part []model.Contribution, excluded, predefined map[model.TypeID]bool) ([]model.Contribution, diag.List) {
	replaced := make(map[model.TypeID]bool)
	converged := false
	for i := 0; i <= len(part)+1; i++ {
		next := make(map[model.TypeID]bool)
		for _, c := range part {
			if excluded[c.Type] || replaced[c.Type] && !predefined[c.Type] {
				continue
			}
			for _, r := range c.Replaces {
				next[r] = true
			}
		}
		if sameSet(next, replaced) {
			converged = true
			break
		}
		replaced = next
	}
	if !converged {
		var ids []model.TypeID
		for _, c := range part {
			if len(c.Replaces) > 0 {
				ids = append(ids, c.Type)
			}
		}
		return nil, diag.List{diag.Errorf(token.Position{}, model.TypeID(scope),
			"contributions to %s replace each other in a cycle: %s", scope, model.Names(model.UniqueTypeIDs(ids)))}
	}

	var kept []model.Contribution
	for _, c := range part {
		if excluded[c.Type] {
			continue
		}
		if replaced[c.Type] && !predefined[c.Type] {
			continue
		}
		kept = append(kept, c)
	}
	return kept, duplicates(scope, kept)
}

// duplicates rejects a type contributing the same thing twice to a scope.
func duplicates(scope model.Scope, kept []model.Contribution) diag.List {
	groups := make(map[string][]model.Contribution)
	var keys []string
	for _, c := range kept {
		k := dupKey(c)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], c)
	}
	sort.Strings(keys)

	var errs diag.List
	for _, k := range keys {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		c := group[0]
		what := fmt.Sprintf("contributes to %s more than once", scope)
		if c.Kind == model.KindBinding || c.Kind == model.KindMultibinding {
			what = fmt.Sprintf("contributes multiple %ss for %s%s to %s", c.Kind, c.Bound, qualifierSuffix(c.Qualifier), scope)
		}
		var lines []string
		for i, g := range group {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, where(g.Origin)))
		}
		errs = append(errs, diag.Errorf(c.Origin.Pos, c.Type, "%s %s:\n%s", c.Type, what, strings.Join(lines, "\n")))
	}
	return errs
}

func dupKey(c model.Contribution) string {
	switch c.Kind {
	case model.KindBinding, model.KindMultibinding:
		return fmt.Sprintf("%d|%s|%s|%s", c.Kind, c.Type, c.Bound, c.Qualifier)
	default:
		return fmt.Sprintf("%d|%s", c.Kind, c.Type)
	}
}

func qualifierSuffix(k *model.Key) string {
	if k == nil {
		return ""
	}
	return " qualified by " + k.String()
}

func where(o model.Origin) string {
	if o.FromHint() {
		return o.Hint
	}
	return o.Pos.String()
}

// validateReplaces checks each replaced type is something the contribution
// may replace: a contribution to the same scope, a plain module, or a type
// outside the unit that can't be verified.
func validateReplaces(c model.Contribution, facts Facts) diag.List {
	var errs diag.List
	for _, r := range c.Replaces {
		targets := facts.ContributionsOf(r)
		if len(targets) == 0 {
			if facts.IsModule(r) || !facts.InUniverse(r) {
				continue
			}
			errs = append(errs, diag.Errorf(c.Origin.Pos, c.Type,
				"%s wants to replace %s, but %s is neither a module nor a contributed type", c.Type, r, r))
			continue
		}
		same := false
		for _, t := range targets {
			if t.GroupScope() == c.GroupScope() {
				same = true
				break
			}
		}
		if !same {
			errs = append(errs, diag.Errorf(c.Origin.Pos, c.Type,
				"%s wants to replace %s, but %s isn't contributed to the same scope %s", c.Type, r, r, c.GroupScope()))
		}
	}
	return errs
}

func collect(survivors []model.Contribution) *Result {
	res := &Result{}
	seen := make(map[string]bool)
	for _, c := range survivors {
		k := dupKey(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		switch c.Kind {
		case model.KindModule:
			res.Modules = append(res.Modules, c.Type)
		case model.KindSupertype:
			res.Supertypes = append(res.Supertypes, c.Type)
		case model.KindBinding, model.KindMultibinding:
			res.Bindings = append(res.Bindings, c)
		case model.KindSubcomponent:
			res.Subcomponents = append(res.Subcomponents, c)
		}
	}
	res.Modules = model.UniqueTypeIDs(res.Modules)
	res.Supertypes = model.UniqueTypeIDs(res.Supertypes)
	model.SortContributions(res.Bindings)
	model.SortContributions(res.Subcomponents)
	return res
}

func contributedTo(cs []model.Contribution, scopes map[model.Scope]bool) bool {
	for _, c := range cs {
		if scopes[c.GroupScope()] {
			return true
		}
	}
	return false
}

func toSet(ids []model.TypeID) map[model.TypeID]bool {
	out := make(map[model.TypeID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func sameSet(a, b map[model.TypeID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func scopeNames(scopes []model.Scope) string {
	ids := make([]model.TypeID, len(scopes))
	for i, s := range scopes {
		ids[i] = s.ID()
	}
	return model.Names(ids)
}
