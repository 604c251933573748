package trading

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/dextrader/internal/accounting"
	"github.com/life2you_mini/dextrader/internal/config"
	"github.com/life2you_mini/dextrader/internal/exchange"
	"github.com/life2you_mini/dextrader/internal/mocks"
	"github.com/life2you_mini/dextrader/internal/notify"
	"github.com/life2you_mini/dextrader/internal/quote"
	"github.com/life2you_mini/dextrader/internal/storage"
)

var (
	wbnb     = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	token    = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	tokenHex = token.Hex()
	v2Router = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")

	routeV2     = exchange.Route{Version: exchange.RouteV2}
	routeV3Low  = exchange.Route{Version: exchange.RouteV3, FeeTier: 500}
	routeV3Mid  = exchange.Route{Version: exchange.RouteV3, FeeTier: 2500}
	routeV3High = exchange.Route{Version: exchange.RouteV3, FeeTier: 10000}

	fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func wei(s string) *big.Int {
	return exchange.ToBaseUnits(decimal.RequireFromString(s), 18)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	trader    *Trader
	client    *mocks.MockExchange
	notifier  *mocks.MockNotifier
	positions *accounting.PositionManager
	ledger    storage.LedgerStore
	watched   storage.WatchedTokenStore
}

func newHarness(t *testing.T) *harness {
	logger := zaptest.NewLogger(t)
	cfg := config.GetDefaultConfig()
	dir := t.TempDir()

	client := new(mocks.MockExchange)
	client.On("WrappedNative").Return(wbnb).Maybe()

	ledger := storage.NewFileLedgerStore(filepath.Join(dir, "trades.json"), logger)
	watched := storage.NewFileWatchedTokenStore(filepath.Join(dir, "watched.json"), logger)
	positions := accounting.NewPositionManager(logger, ledger, nil)

	prices := new(mocks.MockPriceProvider)
	prices.On("NativePrice", mock.Anything).Return(dec("600"), nil).Maybe()

	notifier := new(mocks.MockNotifier)
	agg := quote.NewAggregator(client, cfg.Routers.V3FeeTiers, time.Second, logger)

	trader := NewTrader(cfg, logger, client, agg, positions, watched, prices, notifier)
	trader.now = func() time.Time { return fixedNow }

	return &harness{
		trader:    trader,
		client:    client,
		notifier:  notifier,
		positions: positions,
		ledger:    ledger,
		watched:   watched,
	}
}

func (h *harness) withToken(symbol string) {
	h.client.On("TokenMetadata", mock.Anything, token).
		Return(&exchange.TokenMetadata{Address: token, Symbol: symbol, Decimals: 18}, nil)
}

func (h *harness) withQuotes(tokenIn, tokenOut common.Address, quotes map[exchange.Route]*big.Int) {
	for _, r := range []exchange.Route{routeV2, routeV3Low, routeV3Mid, routeV3High} {
		if out, ok := quotes[r]; ok {
			h.client.On("Quote", mock.Anything, r, tokenIn, tokenOut, mock.Anything).Return(out, nil)
			continue
		}
		h.client.On("Quote", mock.Anything, r, tokenIn, tokenOut, mock.Anything).Return(nil, errors.New("execution reverted"))
	}
}

func TestTrader_BuySuccess(t *testing.T) {
	h := newHarness(t)
	h.withToken("CAKE")
	h.client.On("NativeBalance", mock.Anything).Return(wei("1"), nil)
	h.withQuotes(wbnb, token, map[exchange.Route]*big.Int{
		routeV2:    wei("100"),
		routeV3Mid: wei("110"),
	})
	h.client.On("TokenBalance", mock.Anything, token).Return(new(big.Int), nil).Once()
	h.client.On("TokenBalance", mock.Anything, token).Return(wei("109"), nil).Once()
	h.client.On("Swap", mock.Anything, mock.MatchedBy(func(req exchange.SwapRequest) bool {
		return req.Route == routeV3Mid &&
			req.Direction == exchange.DirectionBuy &&
			req.AmountIn.Cmp(wei("0.1")) == 0 &&
			req.MinAmountOut.Cmp(wei("108.9")) == 0 &&
			req.Deadline.Equal(fixedNow.Add(20*time.Minute))
	})).Return(&exchange.Receipt{
		TxHash:            "0xbuy",
		GasUsed:           150_000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
		Success:           true,
	}, nil)
	h.notifier.On("Publish", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Kind == notify.KindBuy && m.TxHash == "0xbuy" && m.Route == "V3-2500"
	})).Return(notify.PublishResult{ID: "n-1"}, nil)

	res := h.trader.Buy(context.Background(), tokenHex, "0.1")
	require.True(t, res.Success, "%v", res.Err)

	assert.Equal(t, "CAKE", res.TokenSymbol)
	assert.Equal(t, "V3-2500", res.Route)
	assert.True(t, dec("109").Equal(res.TokenAmount), "成交数量取余额变化")
	assert.True(t, dec("110").Equal(res.ExpectedOutput))
	assert.True(t, dec("108.9").Equal(res.MinOutput))
	assert.True(t, dec("0.00015").Equal(res.GasCost))
	assert.NotEmpty(t, res.RecordID)
	assert.Empty(t, res.LedgerWarning)
	assert.Equal(t, "n-1", res.NotificationID)

	ctx := context.Background()
	assert.True(t, h.watched.Contains(ctx, tokenHex))
	pos := h.positions.GetOpenPosition(ctx, tokenHex)
	require.NotNil(t, pos)
	assert.True(t, dec("109").Equal(pos.TotalTokens))
	assert.True(t, dec("0.1").Equal(pos.TotalCost))

	trades := h.ledger.Load(ctx).Trades
	require.Len(t, trades, 1)
	assert.True(t, dec("600").Equal(trades[0].ReferencePrice))
	h.client.AssertExpectations(t)
}

func TestTrader_SellRealizesFIFOProfit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.positions.RecordBuy(ctx, accounting.BuyFill{
		TokenAddress: tokenHex, TokenSymbol: "CAKE",
		NativeAmount: dec("0.1"), TokenAmount: dec("100"),
	})
	require.NoError(t, err)
	require.NoError(t, h.watched.Add(ctx, tokenHex))

	h.withToken("CAKE")
	h.client.On("TokenBalance", mock.Anything, token).Return(wei("100"), nil).Once()
	h.client.On("TokenBalance", mock.Anything, token).Return(wei("50"), nil).Once()
	h.withQuotes(token, wbnb, map[exchange.Route]*big.Int{routeV2: wei("0.14")})
	h.client.On("SpenderFor", routeV2).Return(v2Router)
	h.client.On("Allowance", mock.Anything, token, v2Router).Return(new(big.Int), nil)
	h.client.On("Approve", mock.Anything, token, v2Router, math.MaxBig256).
		Return(&exchange.Receipt{TxHash: "0xapprove", Success: true}, nil)

	gas := big.NewInt(150_000 * 1_000_000_000)
	before := wei("1")
	after := new(big.Int).Sub(new(big.Int).Add(before, wei("0.14")), gas)
	h.client.On("NativeBalance", mock.Anything).Return(before, nil).Once()
	h.client.On("NativeBalance", mock.Anything).Return(after, nil).Once()
	h.client.On("Swap", mock.Anything, mock.MatchedBy(func(req exchange.SwapRequest) bool {
		return req.Route == routeV2 &&
			req.Direction == exchange.DirectionSell &&
			req.AmountIn.Cmp(wei("50")) == 0 &&
			req.MinAmountOut.Cmp(wei("0.1386")) == 0
	})).Return(&exchange.Receipt{
		TxHash:            "0xsell",
		GasUsed:           150_000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
		Success:           true,
	}, nil)
	h.notifier.On("Publish", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Kind == notify.KindSell && m.Profit == "0.09"
	})).Return(notify.PublishResult{ID: "n-2"}, nil)

	res := h.trader.Sell(ctx, tokenHex, "50%")
	require.True(t, res.Success, "%v", res.Err)

	assert.Equal(t, "0xapprove", res.ApproveTxHash)
	assert.True(t, dec("50").Equal(res.TokenAmount))
	assert.True(t, dec("0.14").Equal(res.NativeAmount), "收到数量 = 余额变化 + gas")
	require.NotNil(t, res.Profit)
	assert.True(t, dec("0.05").Equal(*res.CostBasis))
	assert.True(t, dec("0.09").Equal(*res.Profit))
	assert.True(t, dec("180").Equal(*res.ProfitPercentage))
	assert.True(t, h.watched.Contains(ctx, tokenHex), "仍有余额，保留观察")
	h.client.AssertExpectations(t)
}

func TestTrader_SellAllRemovesWatchedToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.watched.Add(ctx, tokenHex))

	h.withToken("CAKE")
	h.client.On("TokenBalance", mock.Anything, token).Return(wei("10"), nil).Once()
	h.client.On("TokenBalance", mock.Anything, token).Return(new(big.Int), nil).Once()
	h.withQuotes(token, wbnb, map[exchange.Route]*big.Int{routeV3Low: wei("0.02")})
	h.client.On("SpenderFor", routeV3Low).Return(v2Router)
	h.client.On("Allowance", mock.Anything, token, v2Router).Return(math.MaxBig256, nil)
	h.client.On("NativeBalance", mock.Anything).Return(nil, errors.New("rpc timeout"))
	h.client.On("Swap", mock.Anything, mock.Anything).Return(&exchange.Receipt{TxHash: "0xsell", Success: true}, nil)
	h.notifier.On("Publish", mock.Anything, mock.Anything).Return(notify.PublishResult{}, errors.New("telegram down"))

	res := h.trader.Sell(ctx, tokenHex, "all")
	require.True(t, res.Success, "%v", res.Err)
	assert.Empty(t, res.ApproveTxHash, "额度足够时不授权")
	assert.True(t, dec("0.02").Equal(res.NativeAmount), "读取余额失败时使用报价")
	assert.Nil(t, res.Profit)
	assert.Contains(t, res.LedgerWarning, "没有对应的买入记录")
	assert.Empty(t, res.NotificationID)
	assert.False(t, h.watched.Contains(ctx, tokenHex))
	h.client.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTrader_BuyFailures(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		amount string
		setup  func(h *harness)
		kind   exchange.ErrorKind
		step   TradeStep
	}{
		{
			name:   "地址无效",
			token:  "0x1234",
			amount: "0.1",
			kind:   exchange.KindInvalidInput,
			step:   StepValidateInput,
		},
		{
			name:   "数量无效",
			token:  tokenHex,
			amount: "-1",
			kind:   exchange.KindInvalidInput,
			step:   StepValidateInput,
		},
		{
			name:   "数量过小",
			token:  tokenHex,
			amount: "0.0000000000000000001",
			kind:   exchange.KindInvalidInput,
			step:   StepValidateInput,
		},
		{
			name:   "不是合约",
			token:  tokenHex,
			amount: "0.1",
			setup: func(h *harness) {
				h.client.On("TokenMetadata", mock.Anything, token).Return(nil, exchange.ErrNotContract)
			},
			kind: exchange.KindInvalidToken,
			step: StepValidateToken,
		},
		{
			name:   "余额不足",
			token:  tokenHex,
			amount: "2",
			setup: func(h *harness) {
				h.withToken("CAKE")
				h.client.On("NativeBalance", mock.Anything).Return(wei("1"), nil)
			},
			kind: exchange.KindInsufficientFunds,
			step: StepCheckBalance,
		},
		{
			name:   "没有路由",
			token:  tokenHex,
			amount: "0.1",
			setup: func(h *harness) {
				h.withToken("CAKE")
				h.client.On("NativeBalance", mock.Anything).Return(wei("1"), nil)
				h.withQuotes(wbnb, token, nil)
			},
			kind: exchange.KindNoRoute,
			step: StepGetBestRoute,
		},
		{
			name:   "滑点过大",
			token:  tokenHex,
			amount: "0.1",
			setup: func(h *harness) {
				h.withToken("CAKE")
				h.client.On("NativeBalance", mock.Anything).Return(wei("1"), nil)
				h.withQuotes(wbnb, token, map[exchange.Route]*big.Int{routeV2: wei("100")})
				h.client.On("TokenBalance", mock.Anything, token).Return(new(big.Int), nil)
				h.client.On("Swap", mock.Anything, mock.Anything).
					Return(nil, errors.New("估算gas失败: execution reverted: PancakeRouter: INSUFFICIENT_OUTPUT_AMOUNT"))
			},
			kind: exchange.KindLiquidityOrSlippage,
			step: StepSubmitSwap,
		},
		{
			name:   "交易过期",
			token:  tokenHex,
			amount: "0.1",
			setup: func(h *harness) {
				h.withToken("CAKE")
				h.client.On("NativeBalance", mock.Anything).Return(wei("1"), nil)
				h.withQuotes(wbnb, token, map[exchange.Route]*big.Int{routeV2: wei("100")})
				h.client.On("TokenBalance", mock.Anything, token).Return(new(big.Int), nil)
				h.client.On("Swap", mock.Anything, mock.Anything).
					Return(&exchange.Receipt{TxHash: "0xdead"}, errors.New("execution reverted: Transaction too old"))
			},
			kind: exchange.KindExpired,
			step: StepSubmitSwap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			res := h.trader.Buy(context.Background(), tt.token, tt.amount)
			assert.False(t, res.Success)
			require.NotNil(t, res.Err)
			assert.Equal(t, tt.kind, res.Err.Kind)
			assert.Equal(t, tt.step, res.Err.Step)
			assert.NotEmpty(t, res.Err.Error())

			assert.Empty(t, h.ledger.Load(context.Background()).Trades, "失败的交易不记账")
			h.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		})
	}
}

func TestTrader_SellFailures(t *testing.T) {
	t.Run("余额为0", func(t *testing.T) {
		h := newHarness(t)
		h.withToken("CAKE")
		h.client.On("TokenBalance", mock.Anything, token).Return(new(big.Int), nil)

		res := h.trader.Sell(context.Background(), tokenHex, "all")
		require.NotNil(t, res.Err)
		assert.Equal(t, exchange.KindInsufficientFunds, res.Err.Kind)
	})

	t.Run("超过余额", func(t *testing.T) {
		h := newHarness(t)
		h.withToken("CAKE")
		h.client.On("TokenBalance", mock.Anything, token).Return(wei("5"), nil)

		res := h.trader.Sell(context.Background(), tokenHex, "6")
		require.NotNil(t, res.Err)
		assert.Equal(t, exchange.KindInsufficientFunds, res.Err.Kind)
		h.client.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("授权失败", func(t *testing.T) {
		h := newHarness(t)
		h.withToken("CAKE")
		h.client.On("TokenBalance", mock.Anything, token).Return(wei("5"), nil)
		h.withQuotes(token, wbnb, map[exchange.Route]*big.Int{routeV2: wei("0.01")})
		h.client.On("SpenderFor", routeV2).Return(v2Router)
		h.client.On("Allowance", mock.Anything, token, v2Router).Return(new(big.Int), nil)
		h.client.On("Approve", mock.Anything, token, v2Router, mock.Anything).
			Return(&exchange.Receipt{TxHash: "0xapprove"}, exchange.ErrTxReverted)

		res := h.trader.Sell(context.Background(), tokenHex, "1")
		require.NotNil(t, res.Err)
		assert.Equal(t, exchange.KindAuthorizationFailed, res.Err.Kind)
		assert.Equal(t, StepAuthorize, res.Err.Step)
		assert.ErrorIs(t, res.Err, exchange.ErrTxReverted)
		h.client.AssertNotCalled(t, "Swap", mock.Anything, mock.Anything)
	})
}

func TestTrader_LedgerFailureKeepsSuccess(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.GetDefaultConfig()

	client := new(mocks.MockExchange)
	client.On("WrappedNative").Return(wbnb)
	client.On("TokenMetadata", mock.Anything, token).Return(&exchange.TokenMetadata{Address: token, Symbol: "CAKE", Decimals: 18}, nil)
	client.On("NativeBalance", mock.Anything).Return(wei("1"), nil)
	client.On("Quote", mock.Anything, routeV2, wbnb, token, mock.Anything).Return(wei("10"), nil)
	client.On("Quote", mock.Anything, mock.Anything, wbnb, token, mock.Anything).Return(nil, errors.New("no pool"))
	client.On("TokenBalance", mock.Anything, token).Return(nil, errors.New("rpc error"))
	client.On("Swap", mock.Anything, mock.Anything).Return(&exchange.Receipt{TxHash: "0xok", Success: true}, nil)

	ledger := new(mocks.MockPositionManager)
	ledger.On("RecordBuy", mock.Anything, mock.Anything).Return("", accounting.ErrPersistence)

	watched := storage.NewFileWatchedTokenStore(filepath.Join(t.TempDir(), "watched.json"), logger)
	agg := quote.NewAggregator(client, cfg.Routers.V3FeeTiers, time.Second, logger)
	trader := NewTrader(cfg, logger, client, agg, ledger, watched, nil, nil)

	res := trader.Buy(context.Background(), tokenHex, "0.01")
	assert.True(t, res.Success)
	assert.Nil(t, res.Err)
	assert.Contains(t, res.LedgerWarning, "记账失败")
	assert.True(t, dec("10").Equal(res.TokenAmount), "余额读取失败时使用报价")
	ledger.AssertExpectations(t)
}

func TestTrader_Quote(t *testing.T) {
	h := newHarness(t)
	h.withToken("CAKE")
	h.withQuotes(token, wbnb, map[exchange.Route]*big.Int{
		routeV2:    wei("0.5"),
		routeV3Low: wei("0.52"),
	})

	preview, terr := h.trader.Quote(context.Background(), tokenHex, "1000", false)
	require.Nil(t, terr)
	assert.Equal(t, SideSell, preview.Side)
	assert.Equal(t, "V3-500", preview.Route)
	assert.True(t, dec("0.52").Equal(preview.ExpectedOutput))
	assert.True(t, dec("0.5148").Equal(preview.MinOutput))
	assert.Equal(t, "4.00%", preview.Improvement)
	assert.Len(t, preview.Candidates, 2)

	_, terr = h.trader.Quote(context.Background(), tokenHex, "abc", true)
	require.NotNil(t, terr)
	assert.Equal(t, exchange.KindInvalidInput, terr.Kind)
}

func TestTrader_ScanPositions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.positions.RecordBuy(ctx, accounting.BuyFill{
		TokenAddress: tokenHex, TokenSymbol: "CAKE",
		NativeAmount: dec("0.1"), TokenAmount: dec("100"),
	})
	require.NoError(t, err)
	require.NoError(t, h.watched.Add(ctx, tokenHex))
	require.NoError(t, h.watched.Add(ctx, "not-an-address"))

	h.withToken("CAKE")
	h.client.On("TokenBalance", mock.Anything, token).Return(wei("100"), nil)
	h.withQuotes(token, wbnb, map[exchange.Route]*big.Int{routeV2: wei("0.15")})

	reports := h.trader.ScanPositions(ctx)
	require.Len(t, reports, 2)

	var cake PositionReport
	for _, r := range reports {
		if r.TokenSymbol == "CAKE" {
			cake = r
		} else {
			assert.NotEmpty(t, r.Error)
		}
	}
	assert.True(t, dec("100").Equal(cake.Balance))
	assert.True(t, dec("0.1").Equal(cake.CostBasis))
	assert.True(t, dec("0.15").Equal(cake.CurrentValue))
	assert.True(t, dec("0.05").Equal(cake.Unrealized))
	assert.True(t, dec("50").Equal(cake.UnrealizedPct))
	assert.True(t, dec("90").Equal(cake.FiatValue))
	assert.Equal(t, "V2", cake.Route)
}
