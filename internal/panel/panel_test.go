package panel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNewSortsByAssetThenDate(t *testing.T) {
	p := New([]Row{
		{AssetID: "B", TradeDate: date("2024-01-02")},
		{AssetID: "A", TradeDate: date("2024-01-03")},
		{AssetID: "A", TradeDate: date("2024-01-02")},
		{AssetID: "B", TradeDate: date("2024-01-01")},
	})

	require.Equal(t, 4, p.Len())
	assert.Equal(t, "A", p.Rows[0].AssetID)
	assert.Equal(t, date("2024-01-02"), p.Rows[0].TradeDate)
	assert.Equal(t, date("2024-01-03"), p.Rows[1].TradeDate)
	assert.Equal(t, "B", p.Rows[2].AssetID)
	assert.Equal(t, date("2024-01-01"), p.Rows[2].TradeDate)
}

func TestValidateRejectsDuplicateKeys(t *testing.T) {
	p := New([]Row{
		{AssetID: "A", TradeDate: date("2024-01-02")},
		{AssetID: "A", TradeDate: date("2024-01-02")},
	})

	err := p.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "duplicate row")
}

func TestValidateAcceptsDistinctKeys(t *testing.T) {
	p := New([]Row{
		{AssetID: "A", TradeDate: date("2024-01-02")},
		{AssetID: "B", TradeDate: date("2024-01-02")},
		{AssetID: "A", TradeDate: date("2024-01-03")},
	})
	assert.NoError(t, p.Validate())
}

func TestRequireReportsAllMissingColumns(t *testing.T) {
	p := New(nil)
	p.MarkColumns(ColMomentum)

	err := p.Require(ColMomentum, ColBuySignal, ColVolumeRatio)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{ColBuySignal, ColVolumeRatio}, verr.Missing)

	assert.NoError(t, p.Require(ColMomentum))
}

func TestByAssetAliasesRows(t *testing.T) {
	p := New([]Row{
		{AssetID: "A", TradeDate: date("2024-01-02"), Close: 10},
		{AssetID: "A", TradeDate: date("2024-01-03"), Close: 11},
	})

	rows := p.ByAsset()["A"]
	require.Len(t, rows, 2)
	rows[0].Momentum = 42

	assert.Equal(t, 42.0, p.Rows[0].Momentum)
}

func TestTradingDatesDeduplicatesAcrossAssets(t *testing.T) {
	p := New([]Row{
		{AssetID: "A", TradeDate: date("2024-01-02")},
		{AssetID: "B", TradeDate: date("2024-01-02")},
		{AssetID: "B", TradeDate: date("2024-01-04")},
		{AssetID: "A", TradeDate: date("2024-01-03")},
	})

	dates := p.TradingDates()
	require.Len(t, dates, 3)
	assert.Equal(t, date("2024-01-02"), dates[0])
	assert.Equal(t, date("2024-01-03"), dates[1])
	assert.Equal(t, date("2024-01-04"), dates[2])
}

func TestDayNormalizesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, loc) // 01:30 UTC

	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Day(ts))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(1.5))
	assert.True(t, Valid(0))
	assert.False(t, Valid(NaN()))
}
