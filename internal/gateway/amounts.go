package gateway

// zeroDecimal lists currencies that have no minor unit and are sent to
// providers as whole integers.
var zeroDecimal = map[string]bool{
	"KRW": true,
	"JPY": true,
	"VND": true,
}

// ProviderAmount converts a local amount into the unit the provider expects:
// whole integers for zero-decimal currencies, smallest unit (x100) otherwise.
func ProviderAmount(amount int64, currency string) int64 {
	if zeroDecimal[currency] {
		return amount
	}
	return amount * 100
}

// LocalAmount reverses ProviderAmount for values read back from a provider.
func LocalAmount(amount int64, currency string) int64 {
	if zeroDecimal[currency] {
		return amount
	}
	return amount / 100
}
