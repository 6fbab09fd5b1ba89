package expr

import (
	"regexp"
	"strings"
)

// binaryRe matches the two-operand payload form: `state.<path> <op> <rhs>`.
// rhs is captured greedily so list/dict literals (which may themselves
// contain spaces) come through whole; chainedRe below then checks whether
// that remainder hides a third operand.
var binaryRe = regexp.MustCompile(`^(state\.[A-Za-z0-9_.]+)\s*([+\-*/])\s*(.+)$`)

// chainedRe matches a right-hand remainder that is itself
// `<operand> <op> <operand>` with a state-path or numeric first operand.
var chainedRe = regexp.MustCompile(`^(state\.[A-Za-z0-9_.]+|-?\d+(\.\d+)?)\s*[+\-*/]\s*\S`)

// EvalValue evaluates a `{...}` value expression against st, per spec.md
// §4.3 "Value expressions". raw must be the whole `{payload}` string,
// including braces.
func EvalValue(raw string, st Getter) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, &EvalError{Expr: raw, Msg: "value expression must be wrapped in { }"}
	}
	payload := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	return evalPayload(raw, payload, st)
}

func evalPayload(raw, payload string, st Getter) (any, error) {
	if m := binaryRe.FindStringSubmatch(payload); m != nil {
		leftPath, op, rhsTok := m[1], m[2], strings.TrimSpace(m[3])

		if chainedRe.MatchString(rhsTok) {
			return nil, &EvalError{Expr: raw, Msg: "chained arithmetic is not supported", Cause: ErrChainedArithmetic}
		}

		leftVal, leftOK := st.Get(strings.TrimPrefix(leftPath, "state."))
		if !leftOK {
			return nil, nil
		}

		rightVal, err := parseOperand(rhsTok, st)
		if err != nil {
			return nil, &EvalError{Expr: raw, Msg: "invalid right operand", Cause: err}
		}
		return applyOp(raw, leftVal, op, rightVal)
	}

	// Single operand: bare state path, list literal, or dict literal.
	if strings.HasPrefix(payload, "state.") {
		v, ok := st.Get(strings.TrimPrefix(payload, "state."))
		if !ok {
			return nil, nil
		}
		return v, nil
	}
	return parseOperand(payload, st)
}

// parseOperand parses a single right-hand operand: list literal `[item]`,
// dict literal `{'k': v, ...}`, or a literal/state-path token.
func parseOperand(tok string, st Getter) (any, error) {
	tok = strings.TrimSpace(tok)
	if m := listLitRe.FindStringSubmatch(tok); m != nil {
		item, err := parseOperand(strings.TrimSpace(m[1]), st)
		if err != nil {
			return nil, err
		}
		return []any{item}, nil
	}
	if m := dictLitRe.FindStringSubmatch(tok); m != nil {
		return parseDictBody(m[1], st)
	}
	if v, ok := parseLiteral(tok, st); ok {
		return v, nil
	}
	return nil, &EvalError{Expr: tok, Msg: "unrecognized literal"}
}

func parseDictBody(body string, st Getter) (map[string]any, error) {
	out := map[string]any{}
	body = strings.TrimSpace(body)
	if body == "" {
		return out, nil
	}
	for _, pair := range splitQuoteAware(body, ",") {
		m := dictPairRe.FindStringSubmatch(strings.TrimSpace(pair))
		if m == nil {
			return nil, &EvalError{Expr: pair, Msg: "invalid dict entry"}
		}
		key := m[1]
		if key == "" {
			key = m[2]
		}
		v, err := parseOperand(strings.TrimSpace(m[3]), st)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// applyOp implements the arithmetic/list-addition semantics of spec.md
// §4.3: `+` on a list left-hand side concatenates (auto-wrapping a
// non-list right-hand side); otherwise operands are treated as numeric,
// with `/` always producing a float and division-by-zero fatal.
func applyOp(raw string, left any, op string, right any) (any, error) {
	if op == "+" {
		if lst, ok := left.([]any); ok {
			var rhsItems []any
			if r, ok := right.([]any); ok {
				rhsItems = r
			} else {
				rhsItems = []any{right}
			}
			out := make([]any, 0, len(lst)+len(rhsItems))
			out = append(out, lst...)
			out = append(out, rhsItems...)
			return out, nil
		}
	}

	lf, lOK := toNumber(left)
	rf, rOK := toNumber(right)
	if !lOK || !rOK {
		return nil, &EvalError{Expr: raw, Msg: "operands are not numeric"}
	}
	switch op {
	case "+":
		return addPreservingInt(left, right, lf, rf), nil
	case "-":
		return addPreservingInt(left, right, lf, -rf), nil
	case "*":
		if isIntLike(left) && isIntLike(right) {
			return int64(lf) * int64(rf), nil
		}
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, &EvalError{Expr: raw, Msg: "division by zero", Cause: ErrDivisionByZero}
		}
		return lf / rf, nil
	}
	return nil, &EvalError{Expr: raw, Msg: "unknown operator " + op}
}

func isIntLike(v any) bool {
	switch v.(type) {
	case int, int64:
		return true
	}
	return false
}

func addPreservingInt(left, right any, lf, rf float64) any {
	if isIntLike(left) && isIntLike(right) {
		return int64(lf) + int64(rf)
	}
	return lf + rf
}
