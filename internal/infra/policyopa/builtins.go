package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is the pure, deterministic subset of Rego a verification
// policy may call. Anything touching time, randomness, the network or the
// environment fails compilation.
var allowedBuiltins = map[string]struct{}{
	"abs":          {},
	"and":          {},
	"concat":       {},
	"contains":     {},
	"count":        {},
	"endswith":     {},
	"eq":           {},
	"equal":        {},
	"gt":           {},
	"gte":          {},
	"json.marshal": {},
	"lower":        {},
	"lt":           {},
	"lte":          {},
	"max":          {},
	"min":          {},
	"neq":          {},
	"object.get":   {},
	"or":           {},
	"sort":         {},
	"split":        {},
	"sprintf":      {},
	"startswith":   {},
	"sum":          {},
	"trim":         {},
	"trim_space":   {},
	"upper":        {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; ok {
			allowed = append(allowed, builtin)
		}
	}
	return allowed
}
