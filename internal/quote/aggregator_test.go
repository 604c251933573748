package quote

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/dextrader/internal/exchange"
	"github.com/life2you_mini/dextrader/internal/mocks"
)

var (
	wbnb  = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	token = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")

	routeV2      = exchange.Route{Version: exchange.RouteV2}
	routeV3_500  = exchange.Route{Version: exchange.RouteV3, FeeTier: 500}
	routeV3_2500 = exchange.Route{Version: exchange.RouteV3, FeeTier: 2500}
	routeV3_1pct = exchange.Route{Version: exchange.RouteV3, FeeTier: 10000}
)

type stubQuote struct {
	route exchange.Route
	out   *big.Int
	err   error
}

func newTestAggregator(t *testing.T, tokenIn, tokenOut common.Address, quotes ...stubQuote) (*Aggregator, *mocks.MockExchange) {
	client := new(mocks.MockExchange)
	client.On("WrappedNative").Return(wbnb)
	for _, q := range quotes {
		client.On("Quote", mock.Anything, q.route, tokenIn, tokenOut, mock.Anything).Return(q.out, q.err)
	}
	return NewAggregator(client, []int64{500, 2500, 10000}, time.Second, zaptest.NewLogger(t)), client
}

func TestGetBestRoute_PicksLargestOutput(t *testing.T) {
	agg, client := newTestAggregator(t, wbnb, token,
		stubQuote{routeV2, big.NewInt(100), nil},
		stubQuote{routeV3_500, big.NewInt(95), nil},
		stubQuote{routeV3_2500, big.NewInt(110), nil},
		stubQuote{routeV3_1pct, nil, errors.New("execution reverted: no pool")},
	)

	res, err := agg.GetBestRoute(context.Background(), token, big.NewInt(1e17), true)
	require.NoError(t, err)

	assert.Equal(t, routeV3_2500, res.Best.Route)
	assert.Equal(t, int64(110), res.Best.ExpectedOutput.Int64())
	require.Len(t, res.AllQuotes, 3)
	for _, q := range res.AllQuotes {
		assert.NotEqual(t, routeV3_1pct, q.Route, "失败的候选不应出现在结果中")
	}
	assert.Equal(t, "15.79%", res.Comparison.Improvement)
	client.AssertNumberOfCalls(t, "Quote", 4)
}

func TestGetBestRoute_PanicInOneRoute(t *testing.T) {
	client := new(mocks.MockExchange)
	client.On("WrappedNative").Return(wbnb)
	client.On("Quote", mock.Anything, routeV2, wbnb, token, mock.Anything).Return(big.NewInt(100), nil)
	client.On("Quote", mock.Anything, routeV3_500, wbnb, token, mock.Anything).Panic("nil pointer in decoder")
	client.On("Quote", mock.Anything, routeV3_2500, wbnb, token, mock.Anything).Return(big.NewInt(120), nil)
	client.On("Quote", mock.Anything, routeV3_1pct, wbnb, token, mock.Anything).Return(big.NewInt(90), nil)
	agg := NewAggregator(client, []int64{500, 2500, 10000}, time.Second, zaptest.NewLogger(t))

	res, err := agg.GetBestRoute(context.Background(), token, big.NewInt(1e17), true)
	require.NoError(t, err)
	assert.Equal(t, routeV3_2500, res.Best.Route)
	assert.Len(t, res.AllQuotes, 3)

	onlyPanics := new(mocks.MockExchange)
	onlyPanics.On("WrappedNative").Return(wbnb)
	onlyPanics.On("Quote", mock.Anything, mock.Anything, wbnb, token, mock.Anything).Panic("boom")
	agg = NewAggregator(onlyPanics, []int64{500}, time.Second, zaptest.NewLogger(t))

	_, err = agg.GetBestRoute(context.Background(), token, big.NewInt(1e17), true)
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.ErrorContains(t, err, "报价异常")
}

func TestGetBestRoute_TieKeepsEarlierCandidate(t *testing.T) {
	agg, _ := newTestAggregator(t, wbnb, token,
		stubQuote{routeV2, big.NewInt(100), nil},
		stubQuote{routeV3_500, big.NewInt(100), nil},
		stubQuote{routeV3_2500, big.NewInt(90), nil},
		stubQuote{routeV3_1pct, big.NewInt(100), nil},
	)

	res, err := agg.GetBestRoute(context.Background(), token, big.NewInt(1e17), true)
	require.NoError(t, err)
	assert.Equal(t, routeV2, res.Best.Route)
}

func TestGetBestRoute_SellDirection(t *testing.T) {
	agg, client := newTestAggregator(t, token, wbnb,
		stubQuote{routeV2, nil, errors.New("INSUFFICIENT_LIQUIDITY")},
		stubQuote{routeV3_500, big.NewInt(0), nil},
		stubQuote{routeV3_2500, big.NewInt(7), nil},
		stubQuote{routeV3_1pct, nil, context.DeadlineExceeded},
	)

	res, err := agg.GetBestRoute(context.Background(), token, big.NewInt(500), false)
	require.NoError(t, err)
	assert.Equal(t, routeV3_2500, res.Best.Route)
	assert.Len(t, res.AllQuotes, 1, "0输出视为失败")
	assert.Equal(t, "0%", res.Comparison.Improvement)
	client.AssertExpectations(t)
}

func TestGetBestRoute_AllFail(t *testing.T) {
	agg, _ := newTestAggregator(t, wbnb, token,
		stubQuote{routeV2, nil, errors.New("no pair")},
		stubQuote{routeV3_500, nil, errors.New("no pool")},
		stubQuote{routeV3_2500, nil, errors.New("no pool")},
		stubQuote{routeV3_1pct, nil, errors.New("no pool")},
	)

	res, err := agg.GetBestRoute(context.Background(), token, big.NewInt(1), true)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.ErrorContains(t, err, "no pair")
}

func TestGetQuote(t *testing.T) {
	agg, _ := newTestAggregator(t, wbnb, token, stubQuote{routeV2, big.NewInt(42), nil})

	q := agg.GetQuote(context.Background(), token, big.NewInt(10), true, routeV2)
	assert.True(t, q.Success())
	assert.Equal(t, int64(42), q.ExpectedOutput.Int64())

	bad := agg.GetQuote(context.Background(), token, big.NewInt(0), true, routeV2)
	assert.False(t, bad.Success())
	assert.Error(t, bad.Err)
}

func TestImprovement(t *testing.T) {
	assert.Equal(t, "0%", improvement(big.NewInt(5), big.NewInt(5), 1))
	assert.Equal(t, "0.00%", improvement(big.NewInt(5), big.NewInt(5), 2))
	assert.Equal(t, "100.00%", improvement(big.NewInt(10), big.NewInt(5), 2))
}
