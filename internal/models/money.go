package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedCurrency - валюта не поддерживается шлюзом
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// ErrAmountOverflow - результат пересчета не помещается в int64
var ErrAmountOverflow = errors.New("amount overflow")

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// Currency - код валюты
type Currency string

// Поддерживаемые валюты
const (
	CurrencyGRIN Currency = "GRIN"
	CurrencyBTC  Currency = "BTC"
	CurrencyUSD  Currency = "USD"
	CurrencyEUR  Currency = "EUR"
)

// precisions - количество минимальных единиц в одной единице валюты
var precisions = map[Currency]int64{
	CurrencyGRIN: 1_000_000_000,
	CurrencyBTC:  100_000_000,
	CurrencyUSD:  100,
	CurrencyEUR:  100,
}

// ParseCurrency нормализует код валюты и проверяет поддержку
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := precisions[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// Precision возвращает количество минимальных единиц в одной единице валюты
func (c Currency) Precision() int64 {
	return precisions[c]
}

// IsFiat - фиатная валюта (для нее нужен курс)
func (c Currency) IsFiat() bool {
	return c == CurrencyUSD || c == CurrencyEUR
}

// Money - сумма в минимальных единицах валюты.
// Целые числа, без float, чтобы не терять точность.
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// NewMoney создает сумму
func NewMoney(amount int64, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// ConvertTo пересчитывает сумму в другую валюту по курсу.
//
// rate - сколько единиц исходной валюты стоит одна единица целевой
// (например, 2.5 USD за 1 GRIN). Результат отбрасывает дробную часть:
//
//	amount * to.precision / (from.precision * rate)
func (m Money) ConvertTo(to Currency, rate decimal.Decimal) (Money, error) {
	if _, ok := precisions[m.Currency]; !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, m.Currency)
	}
	if _, ok := precisions[to]; !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, to)
	}
	if !rate.IsPositive() {
		return Money{}, fmt.Errorf("rate must be positive, got %s", rate)
	}

	numerator := decimal.NewFromInt(m.Amount).Mul(decimal.NewFromInt(to.Precision()))
	denominator := decimal.NewFromInt(m.Currency.Precision()).Mul(rate)

	converted := numerator.Div(denominator).Truncate(0)
	if converted.GreaterThan(maxAmount) {
		return Money{}, fmt.Errorf("%w: %s %s exceeds %d", ErrAmountOverflow, converted, to, int64(math.MaxInt64))
	}
	return NewMoney(converted.IntPart(), to), nil
}

// String форматирует сумму в основных единицах: "10.50 USD"
func (m Money) String() string {
	p := m.Currency.Precision()
	if p == 0 {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	exp := int32(len(fmt.Sprint(p)) - 1)
	return decimal.New(m.Amount, -exp).StringFixed(exp) + " " + string(m.Currency)
}
