package account

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

// The accounting identity: for any fill sequence applied to a fresh
// portfolio, net worth equals initial cash plus realized and unrealized PnL
// minus fees.
func TestNetWorthIdentityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const initialCash = 1_000_000.0
		const fee = 1.5

		portfolio := NewPortfolio(initialCash)
		manager := NewManager(0.2, RuleT0)

		symbols := []string{"AAA", "BBB", "CCC"}
		steps := rapid.IntRange(1, 40).Draw(t, "steps")

		totalRealized := 0.0
		totalFees := 0.0

		for i := 0; i < steps; i++ {
			symbol := rapid.SampledFrom(symbols).Draw(t, "symbol")
			buy := rapid.Bool().Draw(t, "buy")
			amount := int64(rapid.IntRange(1, 200).Draw(t, "amount"))
			price := float64(rapid.IntRange(1, 10_000).Draw(t, "price")) / 100

			realized, err := manager.ProcessTrade(symbol, "", buy, amount, price, testDT, ModeLongShort)
			if err != nil {
				t.Fatalf("process trade: %v", err)
			}

			gross := price * float64(amount)
			if buy {
				portfolio.Cash -= gross + fee
			} else {
				portfolio.Cash += gross - fee
			}
			totalRealized += realized
			totalFees += fee

			for _, pos := range manager.All() {
				pos.UpdatePrice(price)
				if pos.Available < 0 || pos.Available > pos.Total {
					t.Fatalf("availability invariant broken: %+v", pos)
				}
			}
			portfolio.UpdateFinancials(manager)
		}

		unrealized := 0.0
		for _, pos := range manager.All() {
			unrealized += pos.UnrealizedPnL()
		}

		want := initialCash + totalRealized + unrealized - totalFees
		if math.Abs(portfolio.NetWorth-want) > 1e-6 {
			t.Fatalf("net worth identity broken: got %.8f want %.8f", portfolio.NetWorth, want)
		}
	})
}

// Under T+1, available + today_open always equals total.
func TestT1AvailabilityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		manager := NewManager(0.2, RuleT1)
		steps := rapid.IntRange(1, 30).Draw(t, "steps")

		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "settle") {
				for _, pos := range manager.All() {
					pos.SettleT1()
				}
			}
			amount := int64(rapid.IntRange(1, 100).Draw(t, "amount"))
			price := float64(rapid.IntRange(100, 2000).Draw(t, "price")) / 100
			buy := rapid.Bool().Draw(t, "buy")
			if _, err := manager.ProcessTrade("AAA", "", buy, amount, price, testDT, ModeLongShort); err != nil {
				t.Fatalf("process trade: %v", err)
			}

			for _, pos := range manager.All() {
				if pos.Available+pos.TodayOpen != pos.Total {
					t.Fatalf("T+1 invariant broken: total=%d available=%d today=%d",
						pos.Total, pos.Available, pos.TodayOpen)
				}
			}
		}
	})
}
