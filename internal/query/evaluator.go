package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dnswlt/portexport/internal/port"
)

// Evaluator matches entities against a parsed expression.
// Compiled regular expressions are cached; an Evaluator is not safe for concurrent use.
type Evaluator struct {
	expr       Expression
	regexCache map[string]*regexp.Regexp
}

func NewEvaluator(expr Expression) *Evaluator {
	return &Evaluator{
		expr:       expr,
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// Compile parses input and validates attribute names and regular expressions,
// so that evaluation errors surface before any entity is fetched.
func Compile(input string) (*Evaluator, error) {
	expr, err := Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", input, err)
	}
	ev := NewEvaluator(expr)
	if err := ev.check(expr); err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", input, err)
	}
	return ev, nil
}

func (ev *Evaluator) String() string {
	return ev.expr.String()
}

// target is what an expression is evaluated against.
type target struct {
	blueprint string
	entity    port.Entity
}

type attributeAccessor func(t target) []string

func mapValues(m map[string]any, withKeys bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []string
	for _, k := range keys {
		v := port.ValueString(m[k])
		if withKeys {
			out = append(out, k+"="+v)
		}
		out = append(out, v)
	}
	return out
}

var attributeAccessors = map[string]attributeAccessor{
	"id":        func(t target) []string { return []string{t.entity.Identifier()} },
	"title":     func(t target) []string { return []string{t.entity.Title()} },
	"blueprint": func(t target) []string { return []string{t.blueprint} },
	"team": func(t target) []string {
		switch v := t.entity["team"].(type) {
		case string:
			return []string{v}
		case []any:
			var teams []string
			for _, x := range v {
				teams = append(teams, port.ValueString(x))
			}
			return teams
		}
		return nil
	},
	"prop": func(t target) []string { return mapValues(t.entity.Properties(), true) },
	"rel":  func(t target) []string { return mapValues(t.entity.Relations(), true) },
	"*": func(t target) []string {
		vals := []string{t.blueprint, t.entity.Identifier(), t.entity.Title()}
		vals = append(vals, mapValues(t.entity.Properties(), false)...)
		return append(vals, mapValues(t.entity.Relations(), false)...)
	},
}

func init() {
	attributeAccessors["identifier"] = attributeAccessors["id"]
	attributeAccessors["property"] = attributeAccessors["prop"]
	attributeAccessors["relation"] = attributeAccessors["rel"]
}

// Matches reports whether entity, retrieved under blueprint, satisfies the expression.
func (ev *Evaluator) Matches(blueprint string, entity port.Entity) (bool, error) {
	return ev.eval(target{blueprint: blueprint, entity: entity}, ev.expr)
}

func (ev *Evaluator) check(expr Expression) error {
	switch v := expr.(type) {
	case *AttributeTerm:
		if _, ok := attributeAccessors[strings.ToLower(v.Attribute)]; !ok {
			return fmt.Errorf("unknown attribute %q", v.Attribute)
		}
		if v.Operator == "~" {
			if _, err := ev.regex(v.Value); err != nil {
				return err
			}
		}
	case *NotExpression:
		return ev.check(v.Expression)
	case *BinaryExpression:
		if err := ev.check(v.Left); err != nil {
			return err
		}
		return ev.check(v.Right)
	}
	return nil
}

func (ev *Evaluator) eval(t target, expr Expression) (bool, error) {
	switch v := expr.(type) {
	case *Term:
		return containsFold(t.entity.Identifier(), v.Value), nil

	case *AttributeTerm:
		accessor, ok := attributeAccessors[strings.ToLower(v.Attribute)]
		if !ok {
			return false, fmt.Errorf("unknown attribute %q", v.Attribute)
		}
		for _, value := range accessor(t) {
			ok, err := ev.matchValue(value, v.Operator, v.Value)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil

	case *NotExpression:
		ok, err := ev.eval(t, v.Expression)
		return !ok, err

	case *BinaryExpression:
		left, err := ev.eval(t, v.Left)
		if err != nil {
			return false, err
		}
		switch v.Operator {
		case "AND":
			if !left {
				return false, nil
			}
		case "OR":
			if left {
				return true, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", v.Operator)
		}
		return ev.eval(t, v.Right)
	}
	return false, fmt.Errorf("unsupported expression type %T", expr)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (ev *Evaluator) regex(pattern string) (*regexp.Regexp, error) {
	if re, ok := ev.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
	}
	ev.regexCache[pattern] = re
	return re, nil
}

func (ev *Evaluator) matchValue(value, operator, query string) (bool, error) {
	switch operator {
	case ":":
		return containsFold(value, query), nil
	case "~":
		re, err := ev.regex(query)
		if err != nil {
			return false, err
		}
		return re.MatchString(value), nil
	}
	return false, fmt.Errorf("unsupported operator %q", operator)
}
