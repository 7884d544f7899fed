package hlc_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticeforge/edgerpc/rpc/hlc"
)

func TestGetAdvancesMonotonically(t *testing.T) {
	g := hlc.New()

	first, err := g.Get()
	require.NoError(t, err)

	second, err := g.Get()
	require.NoError(t, err)

	require.True(t, second.Compare(first) >= 0)
}

func TestSetMergesRemoteClockAhead(t *testing.T) {
	local := hlc.New()
	remote := hlc.New()

	ahead, err := remote.Get()
	require.NoError(t, err)

	require.NoError(t, local.Set(ahead))
	merged, err := local.Get()
	require.NoError(t, err)
	require.True(t, merged.Compare(ahead) > 0)
}

func TestSetRejectsExcessiveDrift(t *testing.T) {
	local := hlc.New(hlc.WithMaxClockDrift(time.Millisecond))

	future := time.Now().Add(365 * 24 * time.Hour).UnixMilli()
	farFuture, err := local.Parse("__ts", fmt.Sprintf("%015d:00000:other-node", future))
	require.NoError(t, err)

	require.Error(t, local.Set(farFuture))
}

func TestStringRoundTripsThroughParse(t *testing.T) {
	g := hlc.New()
	c, err := g.Get()
	require.NoError(t, err)

	parsed, err := g.Parse("__ts", c.String())
	require.NoError(t, err)
	require.Equal(t, 0, c.Compare(parsed))
}

func TestParseRejectsMalformedValue(t *testing.T) {
	g := hlc.New()
	_, err := g.Parse("__ts", "not-an-hlc")
	require.Error(t, err)

	_, err = g.Parse("__ts", "not:a:number")
	require.Error(t, err)
}

func TestCompareOrdersByCounterThenNodeID(t *testing.T) {
	g := hlc.New()

	a, err := g.Parse("__ts", "000000000000000:00001:node-a")
	require.NoError(t, err)
	b, err := g.Parse("__ts", "000000000000000:00001:node-b")
	require.NoError(t, err)
	c, err := g.Parse("__ts", "000000000000000:00002:node-a")
	require.NoError(t, err)

	require.True(t, strings.Compare("node-a", "node-b") < 0)
	require.True(t, a.Compare(b) < 0)
	require.True(t, c.Compare(a) > 0)
}
