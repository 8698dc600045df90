package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRankOptions_CheaperOfferWinsWithDefaultWeights(t *testing.T) {
	options := []Option{
		{ID: "a", Cost: d("10"), Stock: 5},
		{ID: "b", Cost: d("5"), Stock: 1},
	}

	ranked := RankOptions(options, DefaultConfig())
	require.Len(t, ranked, 2)

	// b: costScore 1, stockScore 0 -> 0.6; a: costScore 0, stockScore 1 -> 0.4
	assert.Equal(t, "b", ranked[0].ID)
	assert.InDelta(t, 0.6, ranked[0].Score, 1e-9)
	assert.Equal(t, "a", ranked[1].ID)
	assert.InDelta(t, 0.4, ranked[1].Score, 1e-9)
}

func TestRankOptions_ThreeOfferScoreComputation(t *testing.T) {
	options := []Option{
		{ID: "a", Cost: d("4"), Stock: 10},
		{ID: "b", Cost: d("6"), Stock: 40},
		{ID: "c", Cost: d("8"), Stock: 25},
	}

	ranked := RankOptions(options, DefaultConfig())
	require.Len(t, ranked, 3)

	byID := map[string]Ranked{}
	for _, r := range ranked {
		byID[r.ID] = r
	}

	// costs span 4..8, stocks span 10..40
	// a: cost (8-4)/4=1.0, stock (10-10)/30=0.0 -> 0.6*1.0 + 0.4*0.0 = 0.6
	// b: cost (8-6)/4=0.5, stock (40-10)/30=1.0 -> 0.6*0.5 + 0.4*1.0 = 0.7
	// c: cost (8-8)/4=0.0, stock (25-10)/30=0.5 -> 0.6*0.0 + 0.4*0.5 = 0.2
	assert.InDelta(t, 0.6, byID["a"].Score, 1e-9)
	assert.InDelta(t, 0.7, byID["b"].Score, 1e-9)
	assert.InDelta(t, 0.2, byID["c"].Score, 1e-9)
	assert.Equal(t, "b", ranked[0].ID)
	assert.Equal(t, "a", ranked[1].ID)
	assert.Equal(t, "c", ranked[2].ID)
}

func TestRankOptions_MinStockFilterWithFallback(t *testing.T) {
	cfg := Config{CostWeight: 0.6, StockWeight: 0.4, MinStock: 5}

	filtered := RankOptions([]Option{
		{ID: "low", Cost: d("1"), Stock: 2},
		{ID: "ok", Cost: d("3"), Stock: 9},
	}, cfg)
	require.Len(t, filtered, 1)
	assert.Equal(t, "ok", filtered[0].ID)

	// filtering would empty the set, so the unfiltered set is ranked instead
	fallback := RankOptions([]Option{
		{ID: "x", Cost: d("1"), Stock: 2},
		{ID: "y", Cost: d("2"), Stock: 1},
	}, cfg)
	require.Len(t, fallback, 2)
	assert.Equal(t, "x", fallback[0].ID)
}

func TestRankOptions_DegenerateSetsScoreOne(t *testing.T) {
	ranked := RankOptions([]Option{
		{ID: "a", Cost: d("5"), Stock: 3},
		{ID: "b", Cost: d("5"), Stock: 3},
	}, DefaultConfig())
	require.Len(t, ranked, 2)

	for _, r := range ranked {
		assert.InDelta(t, 1.0, r.Score, 1e-9)
	}
	// stable: input order preserved on ties
	assert.Equal(t, "a", ranked[0].ID)
	assert.Equal(t, "b", ranked[1].ID)
}

func TestRankOptions_WeightsAreNormalized(t *testing.T) {
	options := []Option{
		{ID: "cheap", Cost: d("1"), Stock: 1},
		{ID: "stocked", Cost: d("2"), Stock: 100},
	}

	ranked := RankOptions(options, Config{CostWeight: 6, StockWeight: 4, MinStock: 1})
	require.Len(t, ranked, 2)
	assert.Equal(t, "cheap", ranked[0].ID)
	assert.InDelta(t, 0.6, ranked[0].Score, 1e-9)
}

func TestSelectBestOption_EmptySet(t *testing.T) {
	assert.Nil(t, SelectBestOption(nil, DefaultConfig()))
}

func TestFlattenPriceTable_PicksBestOperatorPerPair(t *testing.T) {
	table := PriceTable{
		"0": {
			"tg": {
				"mts":   {Cost: d("10"), Count: 5},
				"tele2": {Cost: d("5"), Count: 1},
			},
			"wa": {
				"mts": {Cost: d("8"), Count: 12},
			},
		},
		"6": {
			"tg": {
				"o2": {Cost: d("12"), Count: 3},
			},
		},
	}

	flat := FlattenPriceTable(table, DefaultConfig())
	require.Len(t, flat, 3)

	assert.Equal(t, FlatOffer{Country: "0", Service: "tg", Operator: "tele2", Cost: d("5"), Count: 1}, flat[0])
	assert.Equal(t, FlatOffer{Country: "0", Service: "wa", Operator: "mts", Cost: d("8"), Count: 12}, flat[1])
	assert.Equal(t, FlatOffer{Country: "6", Service: "tg", Operator: "o2", Cost: d("12"), Count: 3}, flat[2])
}
