package matrix

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/loanpricer/internal/domain"
)

// newConditionEnv creates the CEL environment rule expressions compile against.
func newConditionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("fico", cel.DoubleType),
		cel.Variable("ltv", cel.DoubleType),
		cel.Variable("loan_amount", cel.DoubleType),
		cel.Variable("dscr", cel.DoubleType),
		cel.Variable("property_value", cel.DoubleType),
		cel.Variable("loan_purpose", cel.StringType),
		cel.Variable("property_type", cel.StringType),
		cel.Variable("property_state", cel.StringType),
		cel.Variable("prepay_structure", cel.StringType),
		cel.Variable("product", cel.StringType),
		cel.Variable("interest_only", cel.BoolType),
		cel.Variable("units", cel.IntType),
		cel.Variable("short_term_rental", cel.BoolType),
	)
}

// Facts returns the CEL activation for a loan input.
func Facts(in *domain.LoanInput) map[string]any {
	return map[string]any{
		"fico":              in.FICO,
		"ltv":               in.LTV,
		"loan_amount":       in.LoanAmount,
		"dscr":              in.DSCR,
		"property_value":    in.EffectivePropertyValue(),
		"loan_purpose":      string(in.LoanPurpose),
		"property_type":     NormalizePropertyType(in.PropertyType),
		"property_state":    NormalizeState(in.PropertyState),
		"prepay_structure":  in.PrepayStructure,
		"product":           in.Product,
		"interest_only":     in.InterestOnly,
		"units":             int64(in.Units),
		"short_term_rental": in.ShortTermRental,
	}
}

// Predicate is a compiled rule condition.
type Predicate struct {
	cond    domain.Condition
	program cel.Program
}

func compilePredicate(env *cel.Env, ruleID string, cond *domain.Condition) (*Predicate, error) {
	if cond == nil {
		return nil, nil
	}

	for _, key := range cond.Unknown {
		slog.Warn("ignoring unknown condition key", "rule_id", ruleID, "key", key)
	}

	p := &Predicate{cond: *cond}
	if strings.TrimSpace(cond.Expression) == "" {
		return p, nil
	}

	ast, issues := env.Compile(cond.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %s: expression: %w", ruleID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", ruleID, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule %s: expression program: %w", ruleID, err)
	}
	p.program = program
	return p, nil
}

// Matches reports whether every present condition key holds for the input.
// A nil predicate always matches.
func (p *Predicate) Matches(in *domain.LoanInput) bool {
	if p == nil {
		return true
	}
	c := &p.cond

	if c.LoanPurpose != "" && !strings.EqualFold(string(c.LoanPurpose), string(in.LoanPurpose)) {
		return false
	}
	if !c.LoanAmount.Contains(in.LoanAmount) ||
		!c.DSCR.Contains(in.DSCR) ||
		!c.FICO.Contains(in.FICO) ||
		!c.LTV.Contains(in.LTV) {
		return false
	}
	if c.PrepayStructure != "" && NormalizePrepay(c.PrepayStructure) != NormalizePrepay(in.PrepayStructure) {
		return false
	}
	if c.Product != "" && !strings.EqualFold(strings.TrimSpace(c.Product), strings.TrimSpace(in.Product)) {
		return false
	}
	if c.InterestOnly != nil && *c.InterestOnly != in.InterestOnly {
		return false
	}

	if p.program != nil {
		out, _, err := p.program.Eval(Facts(in))
		if err != nil {
			slog.Debug("condition expression failed", "expression", c.Expression, "error", err)
			return false
		}
		if b, ok := out.(types.Bool); !ok || !bool(b) {
			return false
		}
	}
	return true
}
