package models

import (
	"math/big"
	"strings"
)

// PlaceholderLogoURL is shown for accounts whose metadata could not be loaded.
const PlaceholderLogoURL = "/assets/miscellaneous/QuestionWhiteBlack.png"

// NormalizeAddress returns the case-folded form used to compare addresses.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// FallbackAccount is the record used when nothing is known about address.
// It is fully populated so it renders like any other account.
func FallbackAccount(address string) *Account {
	return &Account{
		Address:     address,
		Type:        "",
		Name:        "",
		Symbol:      "",
		Website:     "",
		Status:      StatusError,
		Description: "Account metadata unavailable",
		LogoURL:     PlaceholderLogoURL,
		Balance:     new(big.Int),
	}
}

// SameAddress compares two addresses ignoring checksum casing.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
