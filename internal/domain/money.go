package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is the currency every amount in a checkout session is expressed in.
const DefaultCurrency = "USD"

// Money is an amount in the minor unit of its currency (cents for USD).
type Money int64

// Dollars converts a whole major-unit amount into minor units.
func Dollars(whole int64) Money {
	return Money(whole * 100)
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

var displayPrinter = message.NewPrinter(language.AmericanEnglish)

// Format renders the amount for display using the currency's standard scale,
// e.g. 51600 USD -> "$516.00".
func (m Money) Format(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.USD
		code = DefaultCurrency
	}
	scale, _ := currency.Standard.Rounding(unit)

	symbol, ok := currencySymbols[code]
	if !ok {
		symbol = code + " "
	}

	amount := int64(m)
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	factor := int64(1)
	for i := 0; i < scale; i++ {
		factor *= 10
	}
	major := displayPrinter.Sprintf("%v", amount/factor)
	if scale == 0 {
		return sign + symbol + major
	}
	return fmt.Sprintf("%s%s%s.%0*d", sign, symbol, major, scale, amount%factor)
}

// String renders the amount in the default currency.
func (m Money) String() string {
	return m.Format(DefaultCurrency)
}
