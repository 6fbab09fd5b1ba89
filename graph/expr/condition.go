package expr

import (
	"reflect"
	"regexp"
	"strings"
)

// comparisonRe matches `path op rhs`; two-character operators are listed
// before their one-character prefixes so greedy alternation picks them first.
var comparisonRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\s*(==|!=|<=|>=|<|>)\s*(.+)$`)

// EvalCondition evaluates an edge `condition` string against st, per
// spec.md §4.3 "Condition expressions". Unlike value expressions there are
// no braces and no `state.` prefix; the left-hand side is always a bare
// dotted state path.
func EvalCondition(raw string, st Getter) (bool, error) {
	for _, orPart := range splitQuoteAware(raw, " or ") {
		result := true
		for _, andPart := range splitQuoteAware(orPart, " and ") {
			ok, err := evalComparison(strings.TrimSpace(andPart), st)
			if err != nil {
				return false, err
			}
			if !ok {
				result = false
				break
			}
		}
		if result {
			return true, nil
		}
	}
	return false, nil
}

func evalComparison(tok string, st Getter) (bool, error) {
	m := comparisonRe.FindStringSubmatch(tok)
	if m == nil {
		return false, &EvalError{Expr: tok, Msg: "not a valid comparison"}
	}
	path, op, rhsTok := m[1], m[2], strings.TrimSpace(m[3])

	leftVal, leftOK := st.Get(path)
	rightVal := parseRHS(rhsTok, st)

	if !leftOK {
		switch op {
		case "<", "<=", ">", ">=":
			return false, nil
		default: // == / !=
			leftVal = nil
		}
	}
	return compareValues(leftVal, op, rightVal)
}

// parseRHS parses a comparison's right operand in priority order: quoted
// string, boolean/null keyword, numeric literal, dotted identifier resolved
// against state (falling back to the raw token as a string if unresolved).
func parseRHS(tok string, st Getter) any {
	if s, ok := parseQuotedString(tok); ok {
		return s
	}
	switch tok {
	case "true":
		return true
	case "false":
		return false
	case "null", "None", "none":
		return nil
	}
	if numberRe.MatchString(tok) {
		return parseNumber(tok)
	}
	if identifierRe.MatchString(tok) {
		if v, ok := st.Get(tok); ok {
			return v
		}
	}
	return tok
}

func compareValues(left any, op string, right any) (bool, error) {
	switch op {
	case "==":
		return equalValues(left, right), nil
	case "!=":
		return !equalValues(left, right), nil
	}

	lf, lOK := toNumber(left)
	rf, rOK := toNumber(right)
	if lOK && rOK {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lIsStr := left.(string)
	rs, rIsStr := right.(string)
	if lIsStr && rIsStr {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return false, nil
}

func equalValues(a, b any) bool {
	if af, aOK := toNumber(a); aOK {
		if bf, bOK := toNumber(b); bOK {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}
