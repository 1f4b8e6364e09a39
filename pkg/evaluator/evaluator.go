package evaluator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	formforge "github.com/user/formforge"
)

// Evaluator compiles and runs visibility, required and workflow trigger
// conditions against a flat answers map. Expressions are validated at
// schema/workflow create time; runtime failures evaluate to false.
type Evaluator struct {
	logger formforge.Logger
}

func New(logger formforge.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

var (
	pyTrueRe  = regexp.MustCompile(`\bTrue\b`)
	pyFalseRe = regexp.MustCompile(`\bFalse\b`)
	pyNoneRe  = regexp.MustCompile(`\bNone\b`)
)

// normalize maps the Python-flavored literal spellings the form builder
// produces onto the expression grammar.
func normalize(src string) string {
	src = strings.TrimSpace(src)
	src = pyTrueRe.ReplaceAllString(src, "true")
	src = pyFalseRe.ReplaceAllString(src, "false")
	src = pyNoneRe.ReplaceAllString(src, "nil")
	return src
}

var allowedBuiltins = map[string]bool{
	"int":    true,
	"float":  true,
	"string": true,
	"len":    true,
	"abs":    true,
}

var allowedBinaryOps = map[string]bool{
	"==": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"and": true, "or": true, "&&": true, "||": true,
	"in": true,
	"+":  true, "-": true, "*": true, "/": true, "%": true,
}

type whitelistVisitor struct {
	err error
}

func (v *whitelistVisitor) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.NilNode, *ast.IdentifierNode, *ast.IntegerNode, *ast.FloatNode,
		*ast.BoolNode, *ast.StringNode, *ast.ConstantNode, *ast.ArrayNode:
	case *ast.UnaryNode:
		if n.Operator != "not" && n.Operator != "!" && n.Operator != "-" && n.Operator != "+" {
			v.err = fmt.Errorf("operator %q is not allowed", n.Operator)
		}
	case *ast.BinaryNode:
		if !allowedBinaryOps[n.Operator] {
			v.err = fmt.Errorf("operator %q is not allowed", n.Operator)
		}
	case *ast.MemberNode:
		// Property access is limited to the bound maps: answers.get,
		// answers.<id>, data.<id>.
		root := memberRoot(n)
		if root != "answers" && root != "data" {
			v.err = fmt.Errorf("attribute access on %q is not allowed", root)
		}
	case *ast.CallNode:
		switch callee := n.Callee.(type) {
		case *ast.MemberNode:
			if prop, ok := callee.Property.(*ast.StringNode); !ok || prop.Value != "get" {
				v.err = fmt.Errorf("only answers.get() may be called")
			}
		case *ast.IdentifierNode:
			if callee.Value != "str" {
				v.err = fmt.Errorf("function %q is not allowed", callee.Value)
			}
		default:
			v.err = fmt.Errorf("call target is not allowed")
		}
	case *ast.BuiltinNode:
		if !allowedBuiltins[n.Name] {
			v.err = fmt.Errorf("builtin %q is not allowed", n.Name)
		}
	default:
		v.err = fmt.Errorf("expression construct %T is not allowed", n)
	}
}

func memberRoot(n *ast.MemberNode) string {
	switch node := n.Node.(type) {
	case *ast.IdentifierNode:
		return node.Value
	case *ast.MemberNode:
		return memberRoot(node)
	default:
		return ""
	}
}

// Validate parses the expression and rejects any construct outside the
// whitelisted grammar. It is called at form and workflow create time so
// bad conditions fail fast instead of at evaluation.
func (e *Evaluator) Validate(src string) error {
	src = normalize(src)
	if src == "" {
		return nil
	}
	tree, err := parser.Parse(src)
	if err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	v := &whitelistVisitor{}
	ast.Walk(&tree.Node, v)
	if v.err != nil {
		return fmt.Errorf("invalid condition: %w", v.err)
	}
	return nil
}

func buildEnv(answers map[string]any) map[string]any {
	bound := make(map[string]any, len(answers)+1)
	for k, v := range answers {
		bound[k] = v
	}
	bound["get"] = func(args ...any) any {
		if len(args) == 0 {
			return nil
		}
		key := fmt.Sprintf("%v", args[0])
		if v, ok := answers[key]; ok && v != nil {
			return v
		}
		if len(args) > 1 {
			return args[1]
		}
		return nil
	}
	return map[string]any{
		"answers": bound,
		"data":    answers,
		"str":     func(v any) string { return fmt.Sprintf("%v", v) },
	}
}

// Eval runs the expression against the answers map and returns the raw
// result. Used for calculated fields.
func (e *Evaluator) Eval(src string, answers map[string]any) (any, error) {
	src = normalize(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile condition: %w", err)
	}
	out, err := expr.Run(program, buildEnv(answers))
	if err != nil {
		return nil, fmt.Errorf("evaluate condition: %w", err)
	}
	return out, nil
}

// EvalBool evaluates a condition and coerces the result to a boolean.
// An empty expression is true; a runtime failure is false and logged.
func (e *Evaluator) EvalBool(src string, answers map[string]any) bool {
	src = normalize(src)
	if src == "" {
		return true
	}
	out, err := e.Eval(src, answers)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("condition evaluation failed, treating as false", "condition", src, "error", err)
		}
		return false
	}
	return ToBool(out)
}

// Flatten projects the nested response data layout
// (section id -> field map, or list of field maps for repeatable
// sections) onto a flat field id -> value map. Across repeated section
// instances the last write wins.
func Flatten(data map[string]any) map[string]any {
	flat := make(map[string]any)
	for _, sectionVal := range data {
		switch sv := sectionVal.(type) {
		case map[string]any:
			for k, v := range sv {
				flat[k] = v
			}
		case []any:
			for _, inst := range sv {
				if m, ok := inst.(map[string]any); ok {
					for k, v := range m {
						flat[k] = v
					}
				}
			}
		case []map[string]any:
			for _, m := range sv {
				for k, v := range m {
					flat[k] = v
				}
			}
		}
	}
	return flat
}

// Type conversion helpers

func ToFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func ToInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case string:
		s := strings.TrimSpace(v)
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			f, err := strconv.ParseFloat(s, 64)
			return int64(f), err == nil
		}
		return i, true
	}
	return 0, false
}

func ToBool(val any) bool {
	if val == nil {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(v)
		if s == "true" || s == "1" || s == "yes" || s == "on" {
			return true
		}
		if s == "false" || s == "0" || s == "no" || s == "off" {
			return false
		}
		b, _ := strconv.ParseBool(s)
		return b
	case int, int32, int64, float32, float64:
		f, _ := ToFloat64(v)
		return f != 0
	}
	return false
}
