package lending

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HealthFactor is the ratio of risk-adjusted collateral value to debt value.
// A position without debt has an infinite health factor, which decimals cannot
// represent, so the flag is carried explicitly.
type HealthFactor struct {
	value    decimal.Decimal
	infinite bool
}

// InfiniteHealth is the health factor of a debt-free position.
func InfiniteHealth() HealthFactor { return HealthFactor{infinite: true} }

// NewHealthFactor wraps a finite ratio.
func NewHealthFactor(v decimal.Decimal) HealthFactor { return HealthFactor{value: v} }

// IsInfinite reports whether the position carries no debt.
func (h HealthFactor) IsInfinite() bool { return h.infinite }

// Value returns the finite ratio. It is zero for an infinite health factor.
func (h HealthFactor) Value() decimal.Decimal { return h.value }

// Liquidatable reports whether the health factor is strictly below one. This
// is the only liquidation eligibility rule.
func (h HealthFactor) Liquidatable() bool {
	return !h.infinite && h.value.LessThan(one)
}

// Float64 converts the health factor for display; debt-free positions map to
// +Inf.
func (h HealthFactor) Float64() float64 {
	if h.infinite {
		return math.Inf(1)
	}
	f, _ := h.value.Float64()
	return f
}

// Cmp compares two health factors, treating infinity as the largest value.
func (h HealthFactor) Cmp(other HealthFactor) int {
	switch {
	case h.infinite && other.infinite:
		return 0
	case h.infinite:
		return 1
	case other.infinite:
		return -1
	default:
		return h.value.Cmp(other.value)
	}
}

func (h HealthFactor) String() string {
	if h.infinite {
		return "inf"
	}
	return h.value.String()
}

// MarshalJSON encodes the health factor as a decimal string, or "inf".
func (h HealthFactor) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON accepts the encoding produced by MarshalJSON.
func (h *HealthFactor) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if strings.EqualFold(strings.TrimSpace(raw), "inf") {
		*h = InfiniteHealth()
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse health factor: %w", err)
	}
	*h = NewHealthFactor(v)
	return nil
}

// CollateralValue returns the USD value of the pledged collateral.
func CollateralValue(p BorrowPosition, collateralPriceUSD decimal.Decimal) decimal.Decimal {
	return p.CollateralAmount.Mul(collateralPriceUSD)
}

// DebtValue returns the USD value of the outstanding debt.
func DebtValue(p BorrowPosition, debtPriceUSD decimal.Decimal) decimal.Decimal {
	return p.DebtAmount.Mul(debtPriceUSD)
}

// ComputeHealthFactor returns
// (collateralValue * liquidationThresholdPct / 100) / debtValue, or infinity
// when the position carries no debt.
func ComputeHealthFactor(p BorrowPosition, collateralPriceUSD, debtPriceUSD decimal.Decimal, m Market) HealthFactor {
	debtValue := DebtValue(p, debtPriceUSD)
	if !positive(debtValue) {
		return InfiniteHealth()
	}
	adjusted := CollateralValue(p, collateralPriceUSD).Mul(m.LiquidationThresholdPct)
	return NewHealthFactor(quo(adjusted, debtValue.Mul(hundred)))
}

// LiquidationPrice is the collateral price at which a position's health
// factor crosses exactly one.
type LiquidationPrice struct {
	Price decimal.Decimal `json:"price"`
	// Degenerate is set when the position has no collateral (or the market no
	// liquidation threshold) and is liquidatable at any price. Price is zero.
	Degenerate bool `json:"degenerate"`
}

// ComputeLiquidationPrice solves the health factor equation for the
// collateral price: (debt * debtPrice * 100) / (collateral * threshold).
func ComputeLiquidationPrice(p BorrowPosition, m Market, debtPriceUSD decimal.Decimal) LiquidationPrice {
	denominator := p.CollateralAmount.Mul(m.LiquidationThresholdPct)
	if !positive(denominator) {
		return LiquidationPrice{Price: decimal.Zero, Degenerate: true}
	}
	numerator := DebtValue(p, debtPriceUSD).Mul(hundred)
	return LiquidationPrice{Price: quo(numerator, denominator)}
}

// MaxBorrowable is the borrow power of the given collateral value.
func MaxBorrowable(collateralValueUSD decimal.Decimal, m Market) decimal.Decimal {
	return BorrowPower(collateralValueUSD, m)
}

// CheckBorrow rejects a debt increase of additionalDebt units when the
// resulting debt value would exceed the borrow power of the position's
// collateral. It must run before the market ledger is touched.
func CheckBorrow(p BorrowPosition, additionalDebt decimal.Decimal, prices Prices, m Market) error {
	if err := prices.validate(); err != nil {
		return err
	}
	if additionalDebt.IsNegative() {
		return ErrInvalidAmount
	}
	return checkWithinBorrowPower(p.CollateralAmount, p.DebtAmount.Add(additionalDebt), prices, m)
}

func checkWithinBorrowPower(collateral, debt decimal.Decimal, prices Prices, m Market) error {
	debtValue := debt.Mul(prices.Debt)
	collateralValue := collateral.Mul(prices.Collateral)
	// debtValue <= collateralValue * CF / 100, compared without division.
	if debtValue.Mul(hundred).GreaterThan(collateralValue.Mul(m.CollateralFactorPct)) {
		return fmt.Errorf("%w: debt value %s, borrow power %s", ErrExceedsBorrowPower,
			debtValue.StringFixed(2), BorrowPower(collateralValue, m).StringFixed(2))
	}
	return nil
}

// OpenPosition creates a position pledging collateralAmount of collateralAsset
// and drawing debtAmount from market m. The market ledger is not touched; the
// caller applies m.Borrow(debtAmount) once the position has been accepted.
func OpenPosition(id, owner string, m Market, collateralAsset string, collateralAmount, debtAmount decimal.Decimal, prices Prices, openedAt time.Time) (BorrowPosition, error) {
	if !positive(collateralAmount) || !positive(debtAmount) {
		return BorrowPosition{}, ErrInvalidAmount
	}
	if !m.Active {
		return BorrowPosition{}, ErrMarketInactive
	}
	pos := BorrowPosition{
		ID:               id,
		Owner:            owner,
		Market:           m.Symbol,
		CollateralAsset:  strings.ToUpper(strings.TrimSpace(collateralAsset)),
		CollateralAmount: collateralAmount,
		DebtAmount:       decimal.Zero,
		Status:           StatusOpen,
		OpenedAt:         openedAt,
	}
	if err := CheckBorrow(pos, debtAmount, prices, m); err != nil {
		return BorrowPosition{}, err
	}
	pos.DebtAmount = debtAmount
	return pos, nil
}

func (p BorrowPosition) ensureMutable(m Market) error {
	if !p.Open() {
		return ErrPositionClosed
	}
	if p.Market != m.Symbol {
		return ErrMarketMismatch
	}
	return nil
}

// IncreaseDebt draws amount more debt after the borrow power check.
func (p BorrowPosition) IncreaseDebt(amount decimal.Decimal, prices Prices, m Market) (BorrowPosition, error) {
	if err := p.ensureMutable(m); err != nil {
		return p, err
	}
	if !positive(amount) {
		return p, ErrInvalidAmount
	}
	if !m.Active {
		return p, ErrMarketInactive
	}
	if err := CheckBorrow(p, amount, prices, m); err != nil {
		return p, err
	}
	next := p
	next.DebtAmount = p.DebtAmount.Add(amount)
	return next, nil
}

// RepayDebt reduces the debt by amount. Repaying the full debt closes the
// position.
func (p BorrowPosition) RepayDebt(amount decimal.Decimal) (BorrowPosition, error) {
	if !p.Open() {
		return p, ErrPositionClosed
	}
	if !positive(amount) {
		return p, ErrInvalidAmount
	}
	if amount.GreaterThan(p.DebtAmount) {
		return p, fmt.Errorf("%w: repay %s exceeds debt %s", ErrInvalidAmount, amount, p.DebtAmount)
	}
	next := p
	next.DebtAmount = p.DebtAmount.Sub(amount)
	if next.DebtAmount.IsZero() {
		next.Status = StatusClosed
	}
	return next, nil
}

// AddCollateral tops up the pledged collateral. Risk only decreases, so no
// price check is needed.
func (p BorrowPosition) AddCollateral(amount decimal.Decimal) (BorrowPosition, error) {
	if !p.Open() {
		return p, ErrPositionClosed
	}
	if !positive(amount) {
		return p, ErrInvalidAmount
	}
	next := p
	next.CollateralAmount = p.CollateralAmount.Add(amount)
	return next, nil
}

// RemoveCollateral releases amount of collateral provided the remaining
// collateral still covers the debt within the borrow power.
func (p BorrowPosition) RemoveCollateral(amount decimal.Decimal, prices Prices, m Market) (BorrowPosition, error) {
	if err := p.ensureMutable(m); err != nil {
		return p, err
	}
	if !positive(amount) || amount.GreaterThan(p.CollateralAmount) {
		return p, ErrInvalidAmount
	}
	if err := prices.validate(); err != nil {
		return p, err
	}
	remaining := p.CollateralAmount.Sub(amount)
	if err := checkWithinBorrowPower(remaining, p.DebtAmount, prices, m); err != nil {
		return p, err
	}
	next := p
	next.CollateralAmount = remaining
	return next, nil
}

// Liquidation describes the outcome of liquidating a position.
type Liquidation struct {
	Position         BorrowPosition
	HealthFactor     HealthFactor
	DebtRepaid       decimal.Decimal
	CollateralSeized decimal.Decimal
}

// Liquidate closes an unhealthy position: the liquidator repays the whole debt
// and receives the whole collateral. Healthy positions are rejected.
func (p BorrowPosition) Liquidate(prices Prices, m Market) (Liquidation, error) {
	if err := p.ensureMutable(m); err != nil {
		return Liquidation{}, err
	}
	if err := prices.validate(); err != nil {
		return Liquidation{}, err
	}
	hf := ComputeHealthFactor(p, prices.Collateral, prices.Debt, m)
	if !hf.Liquidatable() {
		return Liquidation{}, fmt.Errorf("%w: health factor %s", ErrNotLiquidatable, hf)
	}
	next := p
	next.DebtAmount = decimal.Zero
	next.CollateralAmount = decimal.Zero
	next.Status = StatusLiquidated
	return Liquidation{
		Position:         next,
		HealthFactor:     hf,
		DebtRepaid:       p.DebtAmount,
		CollateralSeized: p.CollateralAmount,
	}, nil
}
