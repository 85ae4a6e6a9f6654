package state

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPositionApplyFill(t *testing.T) {
	testCases := []struct {
		desc         string
		start        Position
		qty, price   string
		wantQty      string
		wantAvg      string
		wantRealized string
	}{
		{
			desc:         "open long",
			start:        Position{},
			qty:          "50",
			price:        "10",
			wantQty:      "50",
			wantAvg:      "10",
			wantRealized: "0",
		},
		{
			desc:         "add to long averages cost",
			start:        Position{Qty: d("50"), AvgPrice: d("10")},
			qty:          "50",
			price:        "20",
			wantQty:      "100",
			wantAvg:      "15",
			wantRealized: "0",
		},
		{
			desc:         "reduce long realizes gain",
			start:        Position{Qty: d("100"), AvgPrice: d("15")},
			qty:          "-40",
			price:        "20",
			wantQty:      "60",
			wantAvg:      "15",
			wantRealized: "200",
		},
		{
			desc:         "flatten long clears average",
			start:        Position{Qty: d("60"), AvgPrice: d("15")},
			qty:          "-60",
			price:        "10",
			wantQty:      "0",
			wantAvg:      "0",
			wantRealized: "-300",
		},
		{
			desc:         "reverse long to short opens remainder at fill price",
			start:        Position{Qty: d("10"), AvgPrice: d("100")},
			qty:          "-25",
			price:        "90",
			wantQty:      "-15",
			wantAvg:      "90",
			wantRealized: "-100",
		},
		{
			desc:         "cover short realizes gain when price falls",
			start:        Position{Qty: d("-20"), AvgPrice: d("50")},
			qty:          "5",
			price:        "40",
			wantQty:      "-15",
			wantAvg:      "50",
			wantRealized: "50",
		},
		{
			desc:         "add to short averages cost",
			start:        Position{Qty: d("-10"), AvgPrice: d("50")},
			qty:          "-30",
			price:        "70",
			wantQty:      "-40",
			wantAvg:      "65",
			wantRealized: "0",
		},
		{
			desc:         "realized accumulates on prior realized",
			start:        Position{Qty: d("10"), AvgPrice: d("10"), RealizedPnL: d("7")},
			qty:          "-10",
			price:        "11",
			wantQty:      "0",
			wantAvg:      "0",
			wantRealized: "17",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			next, _ := tc.start.applyFill(d(tc.qty), d(tc.price))
			assert.Truef(t, next.Qty.Equal(d(tc.wantQty)), "qty got %s want %s", next.Qty, tc.wantQty)
			assert.Truef(t, next.AvgPrice.Equal(d(tc.wantAvg)), "avg got %s want %s", next.AvgPrice, tc.wantAvg)
			assert.Truef(t, next.RealizedPnL.Equal(d(tc.wantRealized)), "realized got %s want %s", next.RealizedPnL, tc.wantRealized)
		})
	}
}

func TestPositionApplyFillReturnsRealizedDelta(t *testing.T) {
	start := Position{Qty: d("10"), AvgPrice: d("10"), RealizedPnL: d("100")}
	_, delta := start.applyFill(d("-4"), d("12"))
	assert.True(t, delta.Equal(d("8")), "delta %s", delta)
}

func TestPositionUnrealizedAndExposure(t *testing.T) {
	long := Position{Qty: d("10"), AvgPrice: d("100")}
	assert.True(t, long.UnrealizedPnL(d("110")).Equal(d("100")))
	assert.True(t, long.Exposure(d("110")).Equal(d("1100")))

	short := Position{Qty: d("-10"), AvgPrice: d("100")}
	assert.True(t, short.UnrealizedPnL(d("110")).Equal(d("-100")))
	assert.True(t, short.Exposure(d("110")).Equal(d("1100")))

	flat := Position{}
	assert.True(t, flat.UnrealizedPnL(d("110")).IsZero())
	assert.False(t, flat.HasAvgPrice())
}
