// Package matrixtest provides a realistic DSCR matrix and loan inputs for tests.
package matrixtest

import (
	"github.com/opensource-finance/loanpricer/internal/domain"
)

// Fixture constants referenced by tests.
const (
	LenderID    = "acme-capital"
	LenderName  = "Acme Capital"
	ProgramID   = "dscr"
	ProgramName = "DSCR Investor 30"

	MaxLTV          = 75.0
	MinimumRate     = 5.5
	UnderwritingFee = 1495.0

	SmallLoanMin = 100000.0
	SmallLoanMax = 150000.0
	SmallLoanFee = 1000.0

	DSCRAbove120 = -0.125
	DSCRBelow100 = 0.375
	IOAdjustment = 0.25
)

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

func table(kv ...any) domain.Table[float64] {
	t := make(domain.Table[float64], 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		t = append(t, domain.Entry[float64]{Key: kv[i].(string), Value: kv[i+1].(float64)})
	}
	return t
}

func ltvBands(base float64) domain.Table[float64] {
	return table(
		"<55", base,
		"55-60", base+0.125,
		"60.01-65", base+0.25,
		"65.01-70", base+0.375,
		"70.01-75", base+0.625,
	)
}

// Matrix returns a fresh copy of the fixture matrix.
func Matrix() *domain.PricingMatrix {
	return &domain.PricingMatrix{
		LenderID:      LenderID,
		LenderName:    LenderName,
		ProgramID:     ProgramID,
		ProgramName:   ProgramName,
		EffectiveDate: "2025-01-15",
		Version:       "2025.01",
		LoanTerms: domain.LoanTerms{
			Term:            "30 years",
			Amortization:    "30 years",
			MaxLTV:          MaxLTV,
			MinLoanAmount:   75000,
			MaxLoanAmount:   3000000,
			UnderwritingFee: UnderwritingFee,
			SmallLoanFee: domain.SmallLoanFee{
				MinLoanAmount: SmallLoanMin,
				MaxLoanAmount: SmallLoanMax,
				Fee:           SmallLoanFee,
			},
		},
		BorrowerRequirements: domain.BorrowerRequirements{
			MinFico:          660,
			MinFicoRefinance: 680,
		},
		PropertyRequirements: domain.PropertyRequirements{
			MinValue:              100000,
			DSCRMin:               0.75,
			EligiblePropertyTypes: []string{"1-4 Unit SFR", "Condo", "Townhome", "2-4 Unit"},
			ExcludedStates:        []string{"NY", "ND"},
		},
		BusinessRules: domain.BusinessRules{
			StateRules: []domain.Rule{
				{
					RuleID:       "tx-zero-prepay",
					States:       []string{"TX"},
					Requirements: &domain.Requirements{ZeroPrepayRequired: true},
					ErrorMessage: "Texas investor loans are typically priced without a prepayment penalty.",
				},
				{
					RuleID:       "il-nj-prepay",
					States:       []string{"IL", "NJ"},
					Restrictions: &domain.Restrictions{PrepayStructures: []string{"3/2/1", "No Prepay"}},
					ErrorMessage: "Illinois and New Jersey allow only 3/2/1 or no prepay.",
				},
				{
					RuleID:       "pa-prepay",
					States:       []string{"pa"},
					Restrictions: &domain.Restrictions{ForbiddenPrepayStructures: []string{"5/4/3/2/1"}},
					ErrorMessage: "Pennsylvania does not allow a five year prepayment penalty.",
				},
			},
			LoanPurposeRules: []domain.Rule{
				{
					RuleID:       "cash-out-fico",
					Condition:    &domain.Condition{LoanPurpose: domain.PurposeCashOut},
					Requirements: &domain.Requirements{MinFico: f(700)},
					ErrorMessage: "Cash-out refinance requires a minimum FICO of 700.",
				},
			},
			PrepaymentPenaltyRules: []domain.Rule{
				{
					RuleID:       "no-prepay-requirements",
					Condition:    &domain.Condition{PrepayStructure: "No Prepay"},
					Requirements: &domain.Requirements{MinFico: f(720), MinDSCR: f(1.10)},
					Restrictions: &domain.Restrictions{InterestOnly: b(false)},
					ErrorMessage: "No-prepay loans require FICO 720+, DSCR 1.10+ and amortizing payments.",
				},
			},
			DSCRLTVRules: []domain.Rule{
				{
					RuleID:       "low-dscr-ltv",
					Condition:    &domain.Condition{DSCR: &domain.NumericRange{LT: f(1.0)}},
					Requirements: &domain.Requirements{MaxLTV: f(65)},
					ErrorMessage: "DSCR below 1.00 is limited to 65% LTV.",
				},
			},
			ProductRules: []domain.Rule{
				{
					RuleID:       "io-large-loan",
					Condition:    &domain.Condition{LoanAmount: &domain.NumericRange{GT: f(2000000)}},
					Restrictions: &domain.Restrictions{InterestOnly: b(false)},
					ErrorMessage: "Interest-only is not available above $2,000,000.",
				},
			},
			RateRules: []domain.Rule{
				{
					RuleID:       "high-ltv-lock",
					Condition:    &domain.Condition{LTV: &domain.NumericRange{GT: f(70)}},
					ErrorMessage: "Loans above 70% LTV are subject to lock desk review.",
				},
				{
					RuleID:       "str-notice",
					Condition:    &domain.Condition{Expression: "short_term_rental && ltv > 65.0"},
					Requirements: &domain.Requirements{MinRate: f(7.0)},
					ErrorMessage: "Short-term rentals above 65% LTV price at a 7.000% minimum.",
				},
			},
		},
		RateStructure: domain.RateStructure{
			ProductAdjustments: table(
				"30 Year Fixed", 0.0,
				"40 Year Fixed", 0.25,
				"15 Year Fixed", -0.25,
			),
			InterestOnlyAdjustment: IOAdjustment,
			OriginationFeeAdjustments: table(
				"1.0", 0.0,
				"1.5", 0.125,
				"2.0", 0.25,
				"2.5", 0.375,
			),
			LoanSizeAdjustments: table(
				"<150,000", 0.25,
				"150,000-999,999", 0.0,
				"1,000,000-1,999,999", 0.125,
				">=2,000,000", 0.25,
			),
			PrepayAdjustments: table(
				"5/4/3/2/1", 0.0,
				"3/2/1", 0.5,
				"No Prepay", 1.5,
			),
			ProgramAdjustments: domain.ProgramAdjustments{
				CashOut:         0.25,
				ShortTermRental: 0.25,
				Condo:           0.125,
				TwoToFourUnit:   0.125,
				DSCR: domain.DSCRAdjustments{
					Above120: DSCRAbove120,
					Below100: DSCRBelow100,
				},
			},
			MinimumRate: MinimumRate,
		},
		BaseRates: domain.Table[domain.Table[float64]]{
			{Key: "760+", Value: ltvBands(6.25)},
			{Key: "740-759", Value: ltvBands(6.375)},
			{Key: "720-739", Value: ltvBands(6.5)},
			{Key: "700-719", Value: ltvBands(6.75)},
			{Key: "680-699", Value: ltvBands(7.0)},
			{Key: "660-679", Value: ltvBands(7.375)},
		},
		BrokerPayoutAddOns: table(
			"0", 0.0,
			"0.5", 0.375,
			"1", 0.75,
			"1.5", 1.125,
			"2", 1.5,
		),
	}
}

// Input returns an eligible purchase: FICO 750, 70% LTV, $300,000 loan,
// DSCR 1.30, single family in Florida.
func Input() *domain.LoanInput {
	return &domain.LoanInput{
		FICO:               750,
		LTV:                70,
		LoanAmount:         300000,
		LoanPurpose:        domain.PurposePurchase,
		PropertyType:       "Single Family",
		PropertyState:      "FL",
		PropertyValue:      428571.43,
		Units:              1,
		PrepayStructure:    "5/4/3/2/1",
		DSCR:               1.30,
		BrokerCompensation: 1.0,
		YSP:                0,
		MonthlyRent:        3200,
		MonthlyInsurance:   150,
		MonthlyTaxes:       350,
	}
}
