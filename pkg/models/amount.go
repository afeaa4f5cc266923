package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// amount is the wire form of a balance: a decimal string, so values past
// 2^53 survive JavaScript number parsing. Bare numbers and 0x-prefixed hex
// are accepted when reading.
type amount struct{ v *big.Int }

func (a amount) MarshalJSON() ([]byte, error) {
	if a.v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(a.v.String())
}

func (a *amount) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		a.v = nil
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		unq, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("invalid amount %s: %w", data, err)
		}
		text = strings.TrimSpace(unq)
	}
	base := 10
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		text, base = text[2:], 16
	}
	n, ok := new(big.Int).SetString(text, base)
	if !ok {
		return fmt.Errorf("invalid amount %s", data)
	}
	a.v = n
	return nil
}

// Method-free copies used to reach the default field encoding.
type (
	accountFields       Account
	tokenContractFields TokenContract
)

func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		accountFields
		Balance amount `json:"balance"`
	}{accountFields(a), amount{a.Balance}})
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var w struct {
		accountFields
		Balance amount `json:"balance"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Account(w.accountFields)
	a.Balance = w.Balance.v
	return nil
}

func (t TokenContract) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		tokenContractFields
		Balance amount `json:"balance"`
	}{tokenContractFields(t), amount{t.Balance}})
}

func (t *TokenContract) UnmarshalJSON(data []byte) error {
	var w struct {
		tokenContractFields
		Balance amount `json:"balance"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = TokenContract(w.tokenContractFields)
	t.Balance = w.Balance.v
	return nil
}
