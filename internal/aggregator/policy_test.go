package aggregator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"networth-api/internal/models"
)

func quote(source, rate string) models.Quote {
	return models.Quote{
		Pair:   models.NewPair("EUR", "USD"),
		Rate:   decimal.RequireFromString(rate),
		Source: source,
	}
}

func TestPolicy_Combine(t *testing.T) {
	t.Run("no quotes", func(t *testing.T) {
		_, err := DefaultPolicy().Combine(nil)
		assert.ErrorIs(t, err, ErrNoQuotes)
	})

	t.Run("single quote used as is", func(t *testing.T) {
		c, err := DefaultPolicy().Combine([]models.Quote{quote("a", "1.0942123456789")})
		require.NoError(t, err)
		assert.Equal(t, "1.0942123456789", c.Rate.String())
		assert.Equal(t, []string{"a"}, c.Sources())
	})

	t.Run("equal weights by default", func(t *testing.T) {
		c, err := DefaultPolicy().Combine([]models.Quote{quote("a", "1.10"), quote("b", "1.12")})
		require.NoError(t, err)
		assert.True(t, c.Rate.Equal(decimal.RequireFromString("1.11")), c.Rate.String())
	})

	t.Run("trust weights", func(t *testing.T) {
		p := DefaultPolicy()
		p.Weights = map[string]decimal.Decimal{"a": decimal.NewFromInt(3), "b": decimal.NewFromInt(1)}
		c, err := p.Combine([]models.Quote{quote("a", "1.0"), quote("b", "2.0")})
		require.NoError(t, err)
		assert.True(t, c.Rate.Equal(decimal.RequireFromString("1.25")), c.Rate.String())
	})

	t.Run("outlier discarded with three or more quotes", func(t *testing.T) {
		c, err := DefaultPolicy().Combine([]models.Quote{
			quote("a", "1.10"), quote("b", "1.11"), quote("c", "1.09"), quote("d", "1.50"),
		})
		require.NoError(t, err)
		assert.True(t, c.Rate.Equal(decimal.RequireFromString("1.1")), c.Rate.String())
		require.Len(t, c.Rejected, 1)
		assert.Equal(t, "d", c.Rejected[0].Source)
		assert.Equal(t, []string{"a", "b", "c"}, c.Sources())
	})

	t.Run("no outlier check with two quotes", func(t *testing.T) {
		c, err := DefaultPolicy().Combine([]models.Quote{quote("a", "1.0"), quote("b", "2.0")})
		require.NoError(t, err)
		assert.True(t, c.Rate.Equal(decimal.RequireFromString("1.5")))
		assert.Empty(t, c.Rejected)
	})

	t.Run("all quotes outliers keeps everything", func(t *testing.T) {
		p := DefaultPolicy()
		p.OutlierThresholdPct = decimal.RequireFromString("0.001")
		c, err := p.Combine([]models.Quote{quote("a", "1.0"), quote("b", "2.0"), quote("c", "4.0"), quote("d", "8.0")})
		require.NoError(t, err)
		assert.Len(t, c.Used, 4)
		assert.Empty(t, c.Rejected)
	})
}

func TestMedian(t *testing.T) {
	d := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }

	assert.True(t, Median([]decimal.Decimal{d("3"), d("1"), d("2")}).Equal(d("2")))
	assert.True(t, Median([]decimal.Decimal{d("4"), d("1"), d("3"), d("2")}).Equal(d("2.5")))
	assert.True(t, Median(nil).IsZero())

	in := []decimal.Decimal{d("3"), d("1")}
	Median(in)
	assert.True(t, in[0].Equal(d("3")), "input must not be reordered")
}
