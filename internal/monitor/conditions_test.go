package monitor

import (
	"testing"

	"hunter_bot/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestEntryMet(t *testing.T) {
	cases := []struct {
		name  string
		dir   models.Direction
		entry float64
		q     models.Quote
		want  bool
	}{
		{"buy ask below entry", models.Buy, 1.1000, models.Quote{Bid: 1.0993, Ask: 1.0995}, true},
		{"buy ask above entry", models.Buy, 1.1000, models.Quote{Bid: 1.1003, Ask: 1.1005}, false},
		{"buy ask at entry", models.Buy, 1.1000, models.Quote{Bid: 1.0998, Ask: 1.1000}, true},
		{"sell bid above entry", models.Sell, 1.1000, models.Quote{Bid: 1.1002, Ask: 1.1004}, true},
		{"sell bid below entry", models.Sell, 1.1000, models.Quote{Bid: 1.0998, Ask: 1.1000}, false},
		{"zero entry", models.Buy, 0, models.Quote{Bid: 1, Ask: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EntryMet(tc.dir, tc.entry, tc.q))
		})
	}
}

func TestTakeProfitHit(t *testing.T) {
	buy := models.Position{Direction: models.Buy, TakeProfit: 1.1050}
	sell := models.Position{Direction: models.Sell, TakeProfit: 1.0950}

	assert.True(t, TakeProfitHit(buy, models.Quote{Bid: 1.1050, Ask: 1.1052}))
	assert.False(t, TakeProfitHit(buy, models.Quote{Bid: 1.1049, Ask: 1.1051}))
	assert.True(t, TakeProfitHit(sell, models.Quote{Bid: 1.0948, Ask: 1.0950}))
	assert.False(t, TakeProfitHit(sell, models.Quote{Bid: 1.0949, Ask: 1.0951}))
	assert.False(t, TakeProfitHit(models.Position{Direction: models.Buy}, models.Quote{Bid: 9, Ask: 9}))
}

func TestStopLossHit(t *testing.T) {
	buy := models.Position{Direction: models.Buy, StopLoss: 1.0950}
	sell := models.Position{Direction: models.Sell, StopLoss: 1.1050}

	assert.True(t, StopLossHit(buy, models.Quote{Bid: 1.0950, Ask: 1.0952}), "boundary is inclusive")
	assert.False(t, StopLossHit(buy, models.Quote{Bid: 1.0951, Ask: 1.0953}))
	assert.True(t, StopLossHit(sell, models.Quote{Bid: 1.1048, Ask: 1.1050}))
	assert.False(t, StopLossHit(sell, models.Quote{Bid: 1.1047, Ask: 1.1049}))
	assert.False(t, StopLossHit(models.Position{Direction: models.Sell}, models.Quote{Bid: 0, Ask: 0}))
}
