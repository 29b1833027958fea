package pricing

import (
	"errors"
	"testing"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/matrix"
	"github.com/opensource-finance/loanpricer/internal/matrix/matrixtest"
)

func compiled(t *testing.T, mutate ...func(m *domain.PricingMatrix)) *matrix.Compiled {
	t.Helper()
	m := matrixtest.Matrix()
	for _, fn := range mutate {
		fn(m)
	}
	c, err := matrix.Compile(m)
	if err != nil {
		t.Fatalf("failed to compile matrix: %v", err)
	}
	return c
}

func variant(t *testing.T, c *matrix.Compiled, name string) Variant {
	t.Helper()
	for _, v := range Variants(c, "") {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("variant %q not enumerated", name)
	return Variant{}
}

func TestCalculateThirtyYearFixed(t *testing.T) {
	c := compiled(t)
	in := matrixtest.Input()

	res, err := Calculate(c, in, variant(t, c, "30 Year Fixed"))
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	if res.BaseRate != 6.75 {
		t.Errorf("expected base rate 6.75, got %v", res.BaseRate)
	}
	if res.Adjustments.DSCR != matrixtest.DSCRAbove120 {
		t.Errorf("expected DSCR adjustment %v, got %v", matrixtest.DSCRAbove120, res.Adjustments.DSCR)
	}
	if res.FinalRate != 6.625 {
		t.Errorf("expected final rate 6.625, got %v", res.FinalRate)
	}
	if res.MonthlyPayment != 1920.93 {
		t.Errorf("expected payment 1920.93, got %v", res.MonthlyPayment)
	}
	if res.TotalPoints != 0 {
		t.Errorf("expected 0 points, got %v", res.TotalPoints)
	}
	if res.TotalFees != matrixtest.UnderwritingFee {
		t.Errorf("expected fees %v, got %v", matrixtest.UnderwritingFee, res.TotalFees)
	}
	if res.FeeBreakdown.Origination != 3000 {
		t.Errorf("expected origination line 3000, got %v", res.FeeBreakdown.Origination)
	}
	if res.FeeBreakdown.SmallLoanFee != nil {
		t.Errorf("expected no small loan fee, got %v", *res.FeeBreakdown.SmallLoanFee)
	}
	if res.TermYears != 30 || res.InterestOnly {
		t.Errorf("unexpected term/io: %d/%v", res.TermYears, res.InterestOnly)
	}
	if res.LenderID != matrixtest.LenderID || res.ProgramID != matrixtest.ProgramID {
		t.Errorf("unexpected lender identity %s/%s", res.LenderID, res.ProgramID)
	}
}

func TestCalculateInterestOnly(t *testing.T) {
	c := compiled(t)
	in := matrixtest.Input()

	res, err := Calculate(c, in, variant(t, c, "30 Year Fixed"+InterestOnlySuffix))
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if res.Adjustments.InterestOnly != matrixtest.IOAdjustment {
		t.Errorf("expected IO adjustment, got %v", res.Adjustments.InterestOnly)
	}
	if res.FinalRate != 6.875 {
		t.Errorf("expected final rate 6.875, got %v", res.FinalRate)
	}
	if res.MonthlyPayment != 1718.75 {
		t.Errorf("expected interest-only payment 1718.75, got %v", res.MonthlyPayment)
	}
}

func TestCalculateAdjustmentCascade(t *testing.T) {
	c := compiled(t)
	in := matrixtest.Input()
	in.LoanPurpose = domain.PurposeCashOut
	in.PropertyType = "Condominium"
	in.BrokerCompensation = 1.75 // next threshold is 2.0
	in.LoanAmount = 1200000
	in.DSCR = 1.1

	res, err := Calculate(c, in, variant(t, c, "40 Year Fixed"))
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	adj := res.Adjustments
	if adj.Product != 0.25 || adj.DSCR != 0 || adj.Program != 0.375 || adj.OriginationFee != 0.25 || adj.LoanSize != 0.125 {
		t.Errorf("unexpected adjustments %+v", adj)
	}
	if adj.Total != 1.0 {
		t.Errorf("expected total 1.0, got %v", adj.Total)
	}
	if res.FinalRate != 7.75 {
		t.Errorf("expected 6.75 + 1.0 = 7.75, got %v", res.FinalRate)
	}
	if res.TermYears != 40 {
		t.Errorf("expected 40 year term, got %d", res.TermYears)
	}
	if res.FeeBreakdown.LoanSize != 1500 {
		t.Errorf("expected loan size line 1500, got %v", res.FeeBreakdown.LoanSize)
	}
}

func TestOriginationAdjustment(t *testing.T) {
	c := compiled(t)
	tests := map[float64]float64{
		0:    0,
		1.0:  0,
		1.01: 0.125,
		2.0:  0.25,
		2.5:  0.375,
		3.0:  0.375, // above every threshold uses the largest bucket
	}
	for comp, want := range tests {
		if got := OriginationAdjustment(c, comp); got != want {
			t.Errorf("comp %v: expected %v, got %v", comp, want, got)
		}
	}
}

func TestDSCRAdjustmentGap(t *testing.T) {
	c := compiled(t)
	tests := []struct {
		dscr, ltv, want float64
	}{
		{1.21, 75, matrixtest.DSCRAbove120},
		{1.20, 70, 0},
		{1.0, 60, 0},
		{0.9, 65, matrixtest.DSCRBelow100},
		{0.9, 65.01, 0}, // below 1.00 with LTV above 65 is not adjusted
	}
	for _, tt := range tests {
		if got := DSCRAdjustment(c, tt.dscr, tt.ltv); got != tt.want {
			t.Errorf("dscr %v ltv %v: expected %v, got %v", tt.dscr, tt.ltv, tt.want, got)
		}
	}
}

func TestProgramAdjustmentIgnoresShortTermRental(t *testing.T) {
	c := compiled(t)
	in := matrixtest.Input()
	in.ShortTermRental = true
	if got := ProgramAdjustment(c, in); got != 0 {
		t.Errorf("expected no program adjustment, got %v", got)
	}

	in.PropertyType = "Duplex"
	if got := ProgramAdjustment(c, in); got != 0.125 {
		t.Errorf("expected 2-4 unit adjustment, got %v", got)
	}
}

func TestPoints(t *testing.T) {
	c := compiled(t)
	in := matrixtest.Input()
	in.YSP = 1.5
	in.PrepayStructure = "no prepay"
	in.DiscountPoints = 0.25

	res, err := Calculate(c, in, variant(t, c, "30 Year Fixed"))
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if res.Points.YSP != 1.125 || res.Points.Prepay != 1.5 || res.Points.Discount != 0.25 {
		t.Errorf("unexpected points %+v", res.Points)
	}
	if res.TotalPoints != 2.875 {
		t.Errorf("expected 2.875 points, got %v", res.TotalPoints)
	}

	// 2.875% of 300,000 + underwriting
	if res.TotalFees != 8625+matrixtest.UnderwritingFee {
		t.Errorf("expected fees %v, got %v", 8625+matrixtest.UnderwritingFee, res.TotalFees)
	}
	if res.FeeBreakdown.YSP != 3375 || res.FeeBreakdown.Prepay != 4500 {
		t.Errorf("unexpected fee lines %+v", res.FeeBreakdown)
	}

	in.YSP = 0.75 // not listed
	if got := YSPPoints(c, in.YSP); got != 0 {
		t.Errorf("expected unlisted YSP to add 0 points, got %v", got)
	}
}

func TestYSPPointsMatchExactKeysOnly(t *testing.T) {
	ranged, err := matrix.ParseRange("0-1")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	exact, err := matrix.ParseRange("1")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	c := &matrix.Compiled{YSP: []matrix.Band{
		{Range: ranged, Value: 0.5},
		{Range: exact, Value: 0.75},
	}}

	if got := YSPPoints(c, 0.5); got != 0 {
		t.Errorf("YSP 0.5 must not match a ranged key, got %v", got)
	}
	if got := YSPPoints(c, 1); got != 0.75 {
		t.Errorf("YSP 1 should match the exact key, got %v", got)
	}
}

func TestSmallLoanFeeBoundary(t *testing.T) {
	c := compiled(t)
	in := matrixtest.Input()

	in.LoanAmount = matrixtest.SmallLoanMin
	res, err := Calculate(c, in, variant(t, c, "30 Year Fixed"))
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if res.FeeBreakdown.SmallLoanFee == nil || *res.FeeBreakdown.SmallLoanFee != matrixtest.SmallLoanFee {
		t.Fatalf("expected small loan fee at the minimum, got %v", res.FeeBreakdown.SmallLoanFee)
	}
	if res.TotalFees != matrixtest.UnderwritingFee+matrixtest.SmallLoanFee {
		t.Errorf("expected small loan fee in total, got %v", res.TotalFees)
	}

	in.LoanAmount = matrixtest.SmallLoanMax
	if got := SmallLoanFee(c, in.LoanAmount); got != matrixtest.SmallLoanFee {
		t.Errorf("expected fee at the maximum, got %v", got)
	}

	in.LoanAmount = matrixtest.SmallLoanMin - 1
	res, err = Calculate(c, in, variant(t, c, "30 Year Fixed"))
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if res.FeeBreakdown.SmallLoanFee != nil {
		t.Errorf("expected no small loan fee below the minimum, got %v", *res.FeeBreakdown.SmallLoanFee)
	}
}

func TestRateFloor(t *testing.T) {
	c := compiled(t, func(m *domain.PricingMatrix) {
		m.RateStructure.MinimumRate = 7.0
	})
	in := matrixtest.Input()

	res, err := Calculate(c, in, variant(t, c, "15 Year Fixed"))
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if res.FinalRate != 7.0 || !res.Adjustments.FloorApplied {
		t.Errorf("expected floor 7.0 applied, got %v (floor=%v)", res.FinalRate, res.Adjustments.FloorApplied)
	}
}

func TestFloorInvariant(t *testing.T) {
	c := compiled(t, func(m *domain.PricingMatrix) {
		m.RateStructure.ProductAdjustments[2].Value = -3
	})
	for _, fico := range []float64{660, 700, 745, 800} {
		for _, ltv := range []float64{40, 57, 62, 68, 74} {
			in := matrixtest.Input()
			in.FICO, in.LTV = fico, ltv
			for _, v := range Variants(c, "") {
				res, err := Calculate(c, in, v)
				if err != nil {
					t.Fatalf("calculate %s failed: %v", v.Name, err)
				}
				if res.FinalRate < matrixtest.MinimumRate {
					t.Errorf("fico %v ltv %v %s: rate %v below floor", fico, ltv, v.Name, res.FinalRate)
				}
			}
		}
	}
}

func TestBaseRateMonotonicInLTV(t *testing.T) {
	c := compiled(t)
	for _, fico := range []float64{665, 690, 710, 730, 750, 780} {
		prev := 0.0
		for _, ltv := range []float64{50, 55, 60, 62.5, 65, 67, 70, 72, 75} {
			rate, err := BaseRate(c, fico, ltv)
			if err != nil {
				t.Fatalf("fico %v ltv %v: %v", fico, ltv, err)
			}
			if rate < prev {
				t.Errorf("fico %v: rate fell from %v to %v at ltv %v", fico, prev, rate, ltv)
			}
			prev = rate
		}
	}
}

func TestCalculateSkipsMissingTier(t *testing.T) {
	c := compiled(t)
	in := matrixtest.Input()

	in.FICO = 640
	if _, err := Calculate(c, in, variant(t, c, "30 Year Fixed")); !errors.Is(err, ErrNoFICOTier) {
		t.Errorf("expected ErrNoFICOTier, got %v", err)
	}

	in.FICO = 750
	in.LTV = 80
	if _, err := Calculate(c, in, variant(t, c, "30 Year Fixed")); !errors.Is(err, ErrNoLTVBand) {
		t.Errorf("expected ErrNoLTVBand, got %v", err)
	}

	in.LTV = 70
	v := Variant{Name: "7/1 ARM", BaseProduct: "7/1 ARM", TermYears: 30}
	if _, err := Calculate(c, in, v); !errors.Is(err, ErrUnknownProduct) {
		t.Errorf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestCalculateNonFinite(t *testing.T) {
	in := matrixtest.Input()
	v := Variant{Name: "30 Year Fixed", BaseProduct: "30 Year Fixed"}

	c := compiled(t)
	c.TermYears = 0
	if _, err := Calculate(c, in, v); !errors.Is(err, ErrNonFinite) {
		t.Errorf("expected ErrNonFinite over zero periods, got %v", err)
	}

	c = compiled(t, func(m *domain.PricingMatrix) {
		m.RateStructure.MinimumRate = 0
		m.RateStructure.ProductAdjustments[0].Value = -6.625
	})
	res, err := Calculate(c, in, v)
	if err != nil {
		t.Fatalf("zero rate should amortize principal alone: %v", err)
	}
	if res.FinalRate != 0 || res.MonthlyPayment != 833.33 {
		t.Errorf("expected 0%% at 833.33, got %v at %v", res.FinalRate, res.MonthlyPayment)
	}

	c.TermYears = 0
	if _, err := Calculate(c, in, v); !errors.Is(err, ErrNonFinite) {
		t.Errorf("expected ErrNonFinite for a zero rate over zero periods, got %v", err)
	}
}

func TestRoundingHalfAwayFromZero(t *testing.T) {
	if got := RoundRate(6.0625); got != 6.063 {
		t.Errorf("expected 6.063, got %v", got)
	}
	if got := RoundCents(1718.745); got != 1718.75 {
		t.Errorf("expected 1718.75, got %v", got)
	}
	if got := sum(0.1, 0.2); got != 0.3 {
		t.Errorf("expected exact 0.3, got %v", got)
	}
	if got := percentOf(1.125, 300000); got != 3375 {
		t.Errorf("expected 3375, got %v", got)
	}
}
