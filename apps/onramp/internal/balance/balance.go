package balance

import (
	"strings"

	"github.com/shopspring/decimal"
	"onramp/apps/onramp/internal/model"
)

// WalletBalance is a wallet's credited total per token symbol.
type WalletBalance struct {
	WalletAddress string
	Balances      map[string]decimal.Decimal
	TotalOrders   int
}

// Aggregate sums the credited amount of every successful order paid to
// wallet. Orders for other wallets are ignored. TotalOrders counts all of
// the wallet's orders regardless of status.
func Aggregate(wallet string, orders []model.Order) *WalletBalance {
	result := &WalletBalance{
		WalletAddress: wallet,
		Balances:      make(map[string]decimal.Decimal),
	}

	for i := range orders {
		order := &orders[i]
		if order.Wallet() != wallet {
			continue
		}
		result.TotalOrders++

		if order.Status != model.StatusSuccess || order.CreditedAmount == nil {
			continue
		}
		token := strings.ToUpper(order.Token)
		result.Balances[token] = result.Balances[token].Add(*order.CreditedAmount)
	}

	return result
}
