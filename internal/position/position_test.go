package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSideDirection(t *testing.T) {
	assert.Equal(t, 1.0, SideLong.Direction())
	assert.Equal(t, -1.0, SideShort.Direction())
	assert.Equal(t, SideShort, SideLong.Opposite())
	assert.Equal(t, SideLong, SideShort.Opposite())
}

func TestUnrealizedPnL(t *testing.T) {
	long := New("acct", "BTCUSDT", SideLong, 0.1, 50000, 10, 500)
	assert.InDelta(t, 100, long.UnrealizedPnL(51000), 1e-9)
	assert.InDelta(t, -100, long.UnrealizedPnL(49000), 1e-9)

	short := New("acct", "BTCUSDT", SideShort, 0.1, 50000, 10, 500)
	assert.InDelta(t, -100, short.UnrealizedPnL(51000), 1e-9)
	assert.InDelta(t, 100, short.UnrealizedPnL(49000), 1e-9)
}

func TestLossFractionOfMargin(t *testing.T) {
	p := New("acct", "BTCUSDT", SideLong, 0.1, 50000, 10, 500)

	p.RealizedPnL = -62.5
	assert.InDelta(t, 0.125, p.LossFractionOfMargin(), 1e-9)

	p.RealizedPnL = 40
	assert.Zero(t, p.LossFractionOfMargin())
}

func TestBook_OpenViews(t *testing.T) {
	b := NewBook()

	p1 := New("acct", "BTCUSDT", SideLong, 0.1, 50000, 10, 500)
	p2 := New("acct", "ETHUSDT", SideShort, 1, 3000, 5, 600)
	p3 := New("acct", "BTCUSDT", SideLong, 0.2, 49000, 10, 980)
	b.Add(p1)
	b.Add(p2)
	b.Add(p3)

	assert.Equal(t, 3, b.OpenCount())
	assert.Len(t, b.OpenBySymbol("BTCUSDT"), 2)
	assert.Equal(t, p1.ID, b.FirstOpen("BTCUSDT").ID)
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, b.Symbols())

	p1.Status = StatusClosed
	assert.Equal(t, 2, b.OpenCount())
	assert.Equal(t, p3.ID, b.FirstOpen("BTCUSDT").ID)

	// Terminal positions stay in the book as history.
	assert.NotNil(t, b.Get(p1.ID))
	assert.Len(t, b.All(), 3)
}
