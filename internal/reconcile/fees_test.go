package reconcile

import (
	"testing"

	"popndrop/internal/data/entity"

	"github.com/stretchr/testify/assert"
)

func TestFees_Fee(t *testing.T) {
	f := Fees{CardPercentBps: 290, CardFixedCents: 30, BankPercentBps: 80, BankCapCents: 500}

	assert.Equal(t, int64(610), f.Fee(entity.PaymentRailCard, 20000))
	assert.Equal(t, int64(160), f.Fee(entity.PaymentRailBankTransfer, 20000))
	assert.Equal(t, int64(500), f.Fee(entity.PaymentRailBankTransfer, 1000000))
	assert.Zero(t, f.Fee(entity.PaymentRailCard, 0))
}

func TestFeeLost(t *testing.T) {
	assert.Equal(t, int64(610), FeeLost(610, 20000, 20000))
	assert.Equal(t, int64(610), FeeLost(610, 20000, 25000))
	assert.Equal(t, int64(305), FeeLost(610, 20000, 10000))
	assert.Equal(t, int64(153), FeeLost(610, 20000, 5000))
	assert.Zero(t, FeeLost(0, 20000, 5000))
	assert.Zero(t, FeeLost(610, 0, 5000))
}

func TestAvailableRails(t *testing.T) {
	assert.Equal(t, []entity.PaymentRail{entity.PaymentRailCard}, AvailableRails(99, 100))
	assert.Equal(t, []entity.PaymentRail{entity.PaymentRailCard, entity.PaymentRailBankTransfer}, AvailableRails(100, 100))
	assert.Equal(t, []entity.PaymentRail{entity.PaymentRailCard}, AvailableRails(0, 0))
}
