package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/model"
)

func TestNumericParser(t *testing.T) {
	var num numericParser
	price := num.parse("price", "12.50")
	rate := num.parse("rate", "0.10")
	if num.err != nil {
		t.Fatal(num.err)
	}
	if !price.Equal(decimal.RequireFromString("12.5")) || !rate.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("parsed %s, %s", price, rate)
	}
}

func TestNumericParser_KeepsFirstError(t *testing.T) {
	var num numericParser
	num.parse("balance", "NaN")
	num.parse("daily_profit", "garbage")
	num.parse("invites_profit", "3")
	if num.err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(num.err.Error(), "balance") {
		t.Errorf("error should name the first bad column: %v", num.err)
	}
}

func TestStorageErr_WrapsParseFailure(t *testing.T) {
	var num numericParser
	num.parse("amount", "")
	err := storageErr("get account a", num.err)
	if !errors.Is(err, model.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}
