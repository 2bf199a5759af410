package reconcile

import (
	"math"

	"popndrop/internal/data/entity"
)

// Fees models provider processing fees. Rates are basis points.
type Fees struct {
	CardPercentBps int64
	CardFixedCents int64
	BankPercentBps int64
	BankCapCents   int64
}

// Fee is the processing fee charged on amountCents over rail.
func (f Fees) Fee(rail entity.PaymentRail, amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	switch rail {
	case entity.PaymentRailBankTransfer:
		fee := basisPoints(amountCents, f.BankPercentBps)
		if f.BankCapCents > 0 && fee > f.BankCapCents {
			fee = f.BankCapCents
		}
		return fee
	default:
		return basisPoints(amountCents, f.CardPercentBps) + f.CardFixedCents
	}
}

// FeeLost is the share of the original fee that a refund of refundCents
// forfeits. The provider keeps fees on refunds.
func FeeLost(feeCents, originalCents, refundCents int64) int64 {
	if feeCents <= 0 || originalCents <= 0 || refundCents <= 0 {
		return 0
	}
	if refundCents >= originalCents {
		return feeCents
	}
	return int64(math.Round(float64(feeCents) * float64(refundCents) / float64(originalCents)))
}

// AvailableRails lists the rails a payment of amountCents may use. The
// bank transfer rail has a provider minimum.
func AvailableRails(amountCents, minAsyncCents int64) []entity.PaymentRail {
	rails := []entity.PaymentRail{entity.PaymentRailCard}
	if amountCents > 0 && amountCents >= minAsyncCents {
		rails = append(rails, entity.PaymentRailBankTransfer)
	}
	return rails
}

func basisPoints(amount, bps int64) int64 {
	return int64(math.Round(float64(amount) * float64(bps) / 10000))
}
