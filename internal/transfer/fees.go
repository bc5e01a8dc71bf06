package transfer

import "github.com/pesafi/pesafi/internal/ledger"

// Tier selects the delivery speed for transfers that leave the bank.
type Tier string

const (
	TierStandard Tier = "standard"
	TierExpress  Tier = "express"
	TierInstant  Tier = "instant"
)

// Fee amounts in minor currency units. Movements between internal accounts
// are free.
const (
	feeStandard = 250
	feeExpress  = 500
	feeInstant  = 1000
)

// Fee returns the fee charged for the given transaction type and tier.
func Fee(txType ledger.TransactionType, tier Tier) int64 {
	if txType != ledger.TypeExternalTransfer {
		return 0
	}
	switch tier {
	case TierExpress:
		return feeExpress
	case TierInstant:
		return feeInstant
	default:
		return feeStandard
	}
}
