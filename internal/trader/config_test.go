package trader

import (
	"testing"

	"ai-futures-trader/internal/database"
)

func TestTradingCoinsPrecedence(t *testing.T) {
	systemDefault := []string{"BTC/USDT", "ETH/USDT"}

	testCases := []struct {
		name   string
		csv    string
		custom string
		want   []string
	}{
		{
			name: "csv column wins",
			csv:  "sol, BNBUSDT",
			want: []string{"SOL/USDT", "BNB/USDT"},
		},
		{
			name:   "custom json when csv empty",
			custom: `["doge","XRP/USDT"]`,
			want:   []string{"DOGE/USDT", "XRP/USDT"},
		},
		{
			name:   "system default when both empty",
			custom: "",
			want:   systemDefault,
		},
		{
			name:   "malformed json falls through",
			custom: `{"not": "a list"}`,
			want:   systemDefault,
		},
		{
			name: "whitespace only csv falls through",
			csv:  " , ",
			want: systemDefault,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &database.Trader{TradingSymbols: tc.csv, CustomCoins: tc.custom}
			got := tradingCoins(tr, systemDefault)
			if len(got) != len(tc.want) {
				t.Fatalf("Expected %v, got %v", tc.want, got)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("Position %d: expected %s, got %s", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestParseSystemSettings(t *testing.T) {
	settings := parseSystemSettings(map[string]string{
		database.ConfigMaxDailyLoss:       "5.5",
		database.ConfigMaxDrawdown:        "not a number",
		database.ConfigStopTradingMinutes: "-3",
		database.ConfigDefaultCoins:       `["ada"]`,
	})

	if settings.maxDailyLoss != 5.5 {
		t.Errorf("Expected max daily loss 5.5, got %v", settings.maxDailyLoss)
	}
	if settings.maxDrawdown != 20.0 {
		t.Errorf("Expected the drawdown default on a malformed value, got %v", settings.maxDrawdown)
	}
	if settings.stopTradingMinutes != 60 {
		t.Errorf("Expected the stop-trading default on a negative value, got %d", settings.stopTradingMinutes)
	}
	if len(settings.defaultCoins) != 1 || settings.defaultCoins[0] != "ADA/USDT" {
		t.Errorf("Expected normalized default coins, got %v", settings.defaultCoins)
	}
}

func TestScanIntervalFloor(t *testing.T) {
	if got := scanInterval(0); got != defaultScanInterval {
		t.Errorf("Expected the default interval for 0, got %v", got)
	}
	if got := scanInterval(7); got.Minutes() != 7 {
		t.Errorf("Expected 7 minutes, got %v", got)
	}
}
