package matrix_test

import (
	"errors"
	"testing"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/matrix"
	"github.com/opensource-finance/loanpricer/internal/matrix/matrixtest"
)

func TestCompileFixture(t *testing.T) {
	c, err := matrix.Compile(matrixtest.Matrix())
	if err != nil {
		t.Fatalf("failed to compile fixture: %v", err)
	}

	if len(c.Tiers) != 6 {
		t.Errorf("expected 6 FICO tiers, got %d", len(c.Tiers))
	}
	if c.TermYears != 30 {
		t.Errorf("expected 30 year term, got %d", c.TermYears)
	}

	wantTerms := map[string]int{"30 Year Fixed": 30, "40 Year Fixed": 40, "15 Year Fixed": 15}
	if len(c.Products) != len(wantTerms) {
		t.Fatalf("expected %d products, got %d", len(wantTerms), len(c.Products))
	}
	for _, p := range c.Products {
		if p.TermYears != wantTerms[p.Name] {
			t.Errorf("%s: expected term %d, got %d", p.Name, wantTerms[p.Name], p.TermYears)
		}
	}
	if c.Products[0].Name != "30 Year Fixed" {
		t.Errorf("expected declared product order, got %s first", c.Products[0].Name)
	}

	for i := 1; i < len(c.Origination); i++ {
		if c.Origination[i-1].Range.Threshold() > c.Origination[i].Range.Threshold() {
			t.Error("origination buckets must be ascending")
		}
	}

	if !c.ExcludedStates["NY"] {
		t.Error("expected NY to be excluded")
	}
	if len(c.Rules.State) != 3 || len(c.Rules.Rate) != 2 {
		t.Errorf("unexpected rule counts: state=%d rate=%d", len(c.Rules.State), len(c.Rules.Rate))
	}
}

func TestCompileProductTermFallsBackToMatrixTerm(t *testing.T) {
	m := matrixtest.Matrix()
	m.LoanTerms.Term = "40 years"
	m.RateStructure.ProductAdjustments = domain.Table[float64]{{Key: "5/1 ARM", Value: 0.125}}

	c, err := matrix.Compile(m)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if c.Products[0].TermYears != 40 {
		t.Errorf("expected matrix term 40, got %d", c.Products[0].TermYears)
	}
}

func TestCompileRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *domain.PricingMatrix)
	}{
		{"missing lender", func(m *domain.PricingMatrix) { m.LenderID = "" }},
		{"bad max ltv", func(m *domain.PricingMatrix) { m.LoanTerms.MaxLTV = 0 }},
		{"no base rates", func(m *domain.PricingMatrix) { m.BaseRates = nil }},
		{"bad fico key", func(m *domain.PricingMatrix) { m.BaseRates[0].Key = "excellent" }},
		{"bad ltv key", func(m *domain.PricingMatrix) { m.BaseRates[1].Value[0].Key = "low" }},
		{"no products", func(m *domain.PricingMatrix) { m.RateStructure.ProductAdjustments = nil }},
		{"bad loan size key", func(m *domain.PricingMatrix) {
			m.RateStructure.LoanSizeAdjustments[0].Key = "small"
		}},
		{"inverted small loan fee", func(m *domain.PricingMatrix) {
			m.LoanTerms.SmallLoanFee.MinLoanAmount = 200000
		}},
		{"ranged ysp key", func(m *domain.PricingMatrix) {
			m.BrokerPayoutAddOns[0].Key = "0-1"
		}},
		{"non-bool expression", func(m *domain.PricingMatrix) {
			m.BusinessRules.RateRules[1].Condition.Expression = "ltv + 1.0"
		}},
		{"unparseable expression", func(m *domain.PricingMatrix) {
			m.BusinessRules.RateRules[1].Condition.Expression = "ltv >"
		}},
		{"unknown expression variable", func(m *domain.PricingMatrix) {
			m.BusinessRules.RateRules[1].Condition.Expression = "credit_score > 700.0"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := matrixtest.Matrix()
			tt.mutate(m)

			_, err := matrix.Compile(m)
			if err == nil {
				t.Fatal("expected compile error")
			}
			if !errors.Is(err, matrix.ErrInvalidMatrix) {
				t.Errorf("expected ErrInvalidMatrix, got %v", err)
			}

			var ce *matrix.CompileError
			if errors.As(err, &ce) && len(ce.Problems) == 0 {
				t.Error("expected at least one problem")
			}
		})
	}
}

func TestCompileAssignsRuleIDs(t *testing.T) {
	m := matrixtest.Matrix()
	m.BusinessRules.RateRules[0].RuleID = ""

	c, err := matrix.Compile(m)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if got := c.Rules.Rate[0].RuleID; got != "rateRules[0]" {
		t.Errorf("expected generated rule ID, got %q", got)
	}
}

func TestCompiledProductLookup(t *testing.T) {
	c, err := matrix.Compile(matrixtest.Matrix())
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	p, ok := c.Product(" 40 year fixed ")
	if !ok || p.Adjustment != 0.25 {
		t.Errorf("expected case-insensitive product lookup, got %+v (ok=%v)", p, ok)
	}
	if _, ok := c.Product("7/1 ARM"); ok {
		t.Error("expected unknown product to be missing")
	}
}
