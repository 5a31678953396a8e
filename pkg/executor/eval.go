package executor

import (
	"math"
	"strings"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/types"
)

// evalExpr evaluates an expression against a row. Unknown properties
// evaluate to null (properties are declared lazily); unknown variables
// are a runtime error since validation should have caught them.
func evalExpr(ec *Context, row *Row, e lang.Expr) (types.Value, error) {
	switch x := e.(type) {
	case *lang.Literal:
		return x.Value, nil
	case *lang.Identifier:
		if row != nil {
			if b, ok := row.Get(x.Name); ok {
				return b.Value(), nil
			}
		}
		if v, ok := ec.Env[x.Name]; ok {
			return v, nil
		}
		return types.Null(), errors.Newf(errors.Runtime, "unbound variable %q", x.Name)
	case *lang.ParameterExpr:
		if v, ok := ec.Env[x.Name]; ok {
			return v, nil
		}
		return types.Null(), errors.Newf(errors.Runtime, "missing parameter $%s", x.Name)
	case *lang.PropertyAccess:
		return evalPropertyAccess(ec, row, x)
	case *lang.BinaryExpr:
		return evalBinary(ec, row, x)
	case *lang.UnaryExpr:
		return evalUnary(ec, row, x)
	case *lang.FunctionCall:
		return evalFunction(ec, row, x)
	case *lang.ListExpr:
		items := make([]types.Value, len(x.Items))
		for i, it := range x.Items {
			v, err := evalExpr(ec, row, it)
			if err != nil {
				return types.Null(), err
			}
			items[i] = v
		}
		return types.List(items), nil
	case *lang.MapExpr:
		m := make(map[string]types.Value, len(x.Entries))
		for k, ve := range x.Entries {
			v, err := evalExpr(ec, row, ve)
			if err != nil {
				return types.Null(), err
			}
			m[k] = v
		}
		return types.Map(m), nil
	default:
		return types.Null(), errors.Newf(errors.Internal, "unevaluable expression %T", e)
	}
}

func evalPropertyAccess(ec *Context, row *Row, pa *lang.PropertyAccess) (types.Value, error) {
	// The common path is var.prop against an entity binding.
	if id, ok := pa.Target.(*lang.Identifier); ok && row != nil {
		if b, found := row.Get(id.Name); found {
			var props map[string]types.Value
			switch {
			case b.Node != nil:
				props = b.Node.Properties
			case b.Edge != nil:
				props = b.Edge.Properties
			case b.Val.Kind() == types.KindMap:
				props = b.Val.AsMap()
			default:
				return types.Null(), errors.Newf(errors.Runtime, "%q has no properties", id.Name)
			}
			if v, ok := props[pa.Key]; ok {
				return v, nil
			}
			return types.Null(), nil
		}
	}
	target, err := evalExpr(ec, row, pa.Target)
	if err != nil {
		return types.Null(), err
	}
	if target.Kind() == types.KindMap {
		if v, ok := target.AsMap()[pa.Key]; ok {
			return v, nil
		}
		return types.Null(), nil
	}
	return types.Null(), errors.Newf(errors.Runtime, "cannot access property %q of a %s value", pa.Key, target.Kind())
}

func evalBinary(ec *Context, row *Row, b *lang.BinaryExpr) (types.Value, error) {
	// Short-circuit logical operators before evaluating the right side.
	switch b.Op {
	case "AND":
		left, err := evalExpr(ec, row, b.Left)
		if err != nil {
			return types.Null(), err
		}
		if !truthy(left) {
			return types.Bool(false), nil
		}
		right, err := evalExpr(ec, row, b.Right)
		if err != nil {
			return types.Null(), err
		}
		return types.Bool(truthy(right)), nil
	case "OR":
		left, err := evalExpr(ec, row, b.Left)
		if err != nil {
			return types.Null(), err
		}
		if truthy(left) {
			return types.Bool(true), nil
		}
		right, err := evalExpr(ec, row, b.Right)
		if err != nil {
			return types.Null(), err
		}
		return types.Bool(truthy(right)), nil
	}

	left, err := evalExpr(ec, row, b.Left)
	if err != nil {
		return types.Null(), err
	}
	right, err := evalExpr(ec, row, b.Right)
	if err != nil {
		return types.Null(), err
	}

	switch b.Op {
	case "XOR":
		return types.Bool(truthy(left) != truthy(right)), nil
	case "=":
		return types.Bool(left.Equal(right)), nil
	case "<>", "!=":
		return types.Bool(!left.Equal(right)), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(left, right, b.Op)
	case "+":
		return addValues(left, right)
	case "-", "*", "/", "%":
		return arithmetic(left, right, b.Op)
	case "IN":
		if right.Kind() != types.KindList {
			return types.Null(), errors.New(errors.Runtime, "IN requires a list on the right")
		}
		for _, item := range right.AsList() {
			if left.Equal(item) {
				return types.Bool(true), nil
			}
		}
		return types.Bool(false), nil
	case "IS":
		// Only IS NULL / IS NOT NULL reach here; the right side is a null
		// literal (possibly negated by the parser as NOT above).
		return types.Bool(left.IsNull() == right.IsNull()), nil
	default:
		return types.Null(), errors.Newf(errors.Runtime, "unsupported operator %q", b.Op)
	}
}

func evalUnary(ec *Context, row *Row, u *lang.UnaryExpr) (types.Value, error) {
	v, err := evalExpr(ec, row, u.Operand)
	if err != nil {
		return types.Null(), err
	}
	switch u.Op {
	case "NOT":
		return types.Bool(!truthy(v)), nil
	case "-":
		switch v.Kind() {
		case types.KindInt:
			return types.Int(-v.AsInt()), nil
		case types.KindFloat:
			return types.Float(-v.AsFloat()), nil
		default:
			return types.Null(), errors.Newf(errors.Runtime, "cannot negate a %s value", v.Kind())
		}
	default:
		return types.Null(), errors.Newf(errors.Runtime, "unsupported unary operator %q", u.Op)
	}
}

// truthy treats null and false as not-true; filters drop rows whose
// predicate is not strictly true.
func truthy(v types.Value) bool {
	return v.Kind() == types.KindBool && v.AsBool()
}

func compareOrdered(left, right types.Value, op string) (types.Value, error) {
	if left.IsNull() || right.IsNull() {
		return types.Bool(false), nil
	}
	numeric := func(v types.Value) bool {
		return v.Kind() == types.KindInt || v.Kind() == types.KindFloat
	}
	var cmp int
	switch {
	case numeric(left) && numeric(right):
		l, r := left.AsFloat(), right.AsFloat()
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	case left.Kind() == types.KindString && right.Kind() == types.KindString:
		cmp = strings.Compare(left.AsString(), right.AsString())
	default:
		return types.Null(), errors.Newf(errors.Runtime, "cannot compare %s with %s", left.Kind(), right.Kind())
	}
	switch op {
	case "<":
		return types.Bool(cmp < 0), nil
	case "<=":
		return types.Bool(cmp <= 0), nil
	case ">":
		return types.Bool(cmp > 0), nil
	default:
		return types.Bool(cmp >= 0), nil
	}
}

func addValues(left, right types.Value) (types.Value, error) {
	if left.Kind() == types.KindString && right.Kind() == types.KindString {
		return types.String(left.AsString() + right.AsString()), nil
	}
	if left.Kind() == types.KindList && right.Kind() == types.KindList {
		return types.List(append(append([]types.Value{}, left.AsList()...), right.AsList()...)), nil
	}
	return arithmetic(left, right, "+")
}

func arithmetic(left, right types.Value, op string) (types.Value, error) {
	if left.IsNull() || right.IsNull() {
		return types.Null(), nil
	}
	isInt := left.Kind() == types.KindInt && right.Kind() == types.KindInt
	numeric := func(v types.Value) bool {
		return v.Kind() == types.KindInt || v.Kind() == types.KindFloat
	}
	if !numeric(left) || !numeric(right) {
		return types.Null(), errors.Newf(errors.Runtime, "cannot apply %q to %s and %s", op, left.Kind(), right.Kind())
	}
	if isInt {
		l, r := left.AsInt(), right.AsInt()
		switch op {
		case "+":
			return types.Int(l + r), nil
		case "-":
			return types.Int(l - r), nil
		case "*":
			return types.Int(l * r), nil
		case "/":
			if r == 0 {
				return types.Null(), errors.New(errors.Runtime, "division by zero")
			}
			return types.Int(l / r), nil
		case "%":
			if r == 0 {
				return types.Null(), errors.New(errors.Runtime, "division by zero")
			}
			return types.Int(l % r), nil
		}
	}
	l, r := left.AsFloat(), right.AsFloat()
	switch op {
	case "+":
		return types.Float(l + r), nil
	case "-":
		return types.Float(l - r), nil
	case "*":
		return types.Float(l * r), nil
	case "/":
		if r == 0 {
			return types.Null(), errors.New(errors.Runtime, "division by zero")
		}
		return types.Float(l / r), nil
	case "%":
		if r == 0 {
			return types.Null(), errors.New(errors.Runtime, "division by zero")
		}
		return types.Float(math.Mod(l, r)), nil
	}
	return types.Null(), errors.Newf(errors.Runtime, "unsupported operator %q", op)
}

// evalFunction dispatches the scalar built-ins (coalesce, length, plus
// common string/math scalars; aggregates never reach here, the planner
// routes them to the Aggregate operator).
func evalFunction(ec *Context, row *Row, fc *lang.FunctionCall) (types.Value, error) {
	name := strings.ToLower(fc.Name)

	if name == "coalesce" {
		for _, arg := range fc.Args {
			v, err := evalExpr(ec, row, arg)
			if err != nil {
				return types.Null(), err
			}
			if !v.IsNull() {
				return v, nil
			}
		}
		return types.Null(), nil
	}

	if name == "haslabel" {
		if len(fc.Args) != 2 {
			return types.Null(), errors.New(errors.Runtime, "hasLabel takes (node, label)")
		}
		id, ok := fc.Args[0].(*lang.Identifier)
		if !ok || row == nil {
			return types.Null(), errors.New(errors.Runtime, "hasLabel requires a node variable")
		}
		b, found := row.Get(id.Name)
		if !found || b.Node == nil {
			return types.Bool(false), nil
		}
		label, err := evalExpr(ec, row, fc.Args[1])
		if err != nil {
			return types.Null(), err
		}
		return types.Bool(b.Node.HasLabel(label.AsString())), nil
	}

	if name == "id" {
		if len(fc.Args) != 1 {
			return types.Null(), errors.New(errors.Runtime, "id takes one argument")
		}
		id, ok := fc.Args[0].(*lang.Identifier)
		if !ok || row == nil {
			return types.Null(), errors.New(errors.Runtime, "id requires an entity variable")
		}
		b, found := row.Get(id.Name)
		switch {
		case found && b.Node != nil:
			return types.String(b.Node.ID.String()), nil
		case found && b.Edge != nil:
			return types.String(b.Edge.ID.String()), nil
		default:
			return types.Null(), errors.New(errors.Runtime, "id requires an entity variable")
		}
	}

	args := make([]types.Value, len(fc.Args))
	for i, arg := range fc.Args {
		v, err := evalExpr(ec, row, arg)
		if err != nil {
			return types.Null(), err
		}
		args[i] = v
	}

	one := func() (types.Value, error) {
		if len(args) != 1 {
			return types.Null(), errors.Newf(errors.Runtime, "%s takes one argument", fc.Name)
		}
		return args[0], nil
	}

	switch name {
	case "length", "size":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		switch v.Kind() {
		case types.KindString:
			return types.Int(int64(len([]rune(v.AsString())))), nil
		case types.KindList:
			return types.Int(int64(len(v.AsList()))), nil
		case types.KindMap:
			return types.Int(int64(len(v.AsMap()))), nil
		case types.KindNull:
			return types.Null(), nil
		default:
			return types.Null(), errors.Newf(errors.Runtime, "length of a %s value", v.Kind())
		}
	case "upper", "toupper":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		return types.String(strings.ToUpper(v.AsString())), nil
	case "lower", "tolower":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		return types.String(strings.ToLower(v.AsString())), nil
	case "trim":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		return types.String(strings.TrimSpace(v.AsString())), nil
	case "abs":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		if v.Kind() == types.KindInt {
			n := v.AsInt()
			if n < 0 {
				n = -n
			}
			return types.Int(n), nil
		}
		return types.Float(math.Abs(v.AsFloat())), nil
	case "ceil":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		return types.Float(math.Ceil(v.AsFloat())), nil
	case "floor":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		return types.Float(math.Floor(v.AsFloat())), nil
	case "round":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		return types.Float(math.Round(v.AsFloat())), nil
	case "sqrt":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		f := v.AsFloat()
		if f < 0 {
			return types.Null(), errors.New(errors.Runtime, "sqrt of a negative number")
		}
		return types.Float(math.Sqrt(f)), nil
	case "tostring":
		v, err := one()
		if err != nil {
			return types.Null(), err
		}
		return types.String(v.String()), nil
	default:
		return types.Null(), errors.Newf(errors.Validation, "unknown function %q", fc.Name)
	}
}
