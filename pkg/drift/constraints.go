package drift

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"golang.org/x/text/cases"
)

// CELPrefix marks a constraint that is evaluated as a CEL expression over
// the variables `original` and `current`. The expression must evaluate to
// true when the constraint is upheld. All other constraints use the lexical
// heuristic below.
const CELPrefix = "cel:"

// negations mark a constraint as prohibitive: the terms it names must not
// appear in the current intent.
var negations = map[string]bool{
	"never": true, "not": true, "no": true, "dont": true, "don": true,
	"avoid": true, "forbid": true, "forbidden": true, "without": true,
}

// violates reports whether the current intent fails to uphold a constraint.
// Evaluation is independent per constraint and fully deterministic.
func (d *Detector) violates(constraint, original, current string) bool {
	if expr, ok := strings.CutPrefix(constraint, CELPrefix); ok {
		return d.cel.violated(expr, original, current)
	}
	return lexicalViolation(constraint, current)
}

// lexicalViolation applies a fixed heuristic:
//   - A prohibitive constraint ("never send data externally") is violated
//     when any of its content terms appears in the current intent.
//   - A prescriptive constraint ("always cite sources") is violated when
//     none of its content terms appear in the current intent.
//
// Terms match by shared stem so "externally" catches "external".
func lexicalViolation(constraint, current string) bool {
	folder := cases.Fold()
	constraintTokens := tokenize(folder, constraint)

	prohibitive := false
	terms := make([]string, 0, len(constraintTokens))
	for _, tok := range constraintTokens {
		if negations[tok] {
			prohibitive = true
			continue
		}
		if stopwords[tok] || len(tok) < 3 {
			continue
		}
		terms = append(terms, tok)
	}
	if len(terms) == 0 {
		return false
	}

	currentTokens := tokenize(folder, current)
	matched := false
	for _, term := range terms {
		for _, tok := range currentTokens {
			if stemMatch(term, tok) {
				matched = true
				break
			}
		}
		if matched {
			break
		}
	}

	if prohibitive {
		return matched
	}
	return !matched
}

// stemMatch reports whether two tokens share a stem: one is a prefix of the
// other and the shared prefix is at least four runes.
func stemMatch(a, b string) bool {
	if a == b {
		return true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= 4 && strings.HasPrefix(long, short)
}

// celEvaluator compiles and caches CEL constraint programs.
type celEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newCELEvaluator() (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("original", cel.StringType),
		cel.Variable("current", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("drift: create CEL environment: %w", err)
	}
	return &celEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// violated evaluates a CEL constraint. Compile or evaluation failures count
// as violations (fail closed): a constraint that cannot be checked is not
// upheld.
func (e *celEvaluator) violated(expr, original, current string) bool {
	prg, err := e.program(expr)
	if err != nil {
		return true
	}

	out, _, err := prg.Eval(map[string]any{
		"original": original,
		"current":  current,
	})
	if err != nil {
		return true
	}

	upheld, ok := out.Value().(bool)
	return !ok || !upheld
}

func (e *celEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("drift: compile constraint: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("drift: build constraint program: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
