package trading

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/accounting"
	"github.com/life2you_mini/dextrader/internal/config"
	"github.com/life2you_mini/dextrader/internal/exchange"
	"github.com/life2you_mini/dextrader/internal/model"
	"github.com/life2you_mini/dextrader/internal/notify"
	"github.com/life2you_mini/dextrader/internal/oracle"
	"github.com/life2you_mini/dextrader/internal/quote"
	"github.com/life2you_mini/dextrader/internal/storage"
)

// PositionLedger 交易执行器使用的记账能力
type PositionLedger interface {
	RecordBuy(ctx context.Context, fill accounting.BuyFill) (string, error)
	RecordSell(ctx context.Context, fill accounting.SellFill) (*accounting.SellOutcome, error)
	GetOpenPosition(ctx context.Context, tokenAddress string) *accounting.OpenPosition
}

// Trader 交易执行器：校验 -> 询价 -> 兑换 -> 记账 -> 通知
type Trader struct {
	logger   *zap.Logger
	config   *config.Config
	client   exchange.Client
	quotes   *quote.Aggregator
	ledger   PositionLedger
	watched  storage.WatchedTokenStore
	prices   oracle.Provider
	notifier notify.Notifier

	slippageBps int64
	deadline    time.Duration
	now         func() time.Time
}

// NewTrader 创建交易执行器
func NewTrader(
	cfg *config.Config,
	logger *zap.Logger,
	client exchange.Client,
	quotes *quote.Aggregator,
	ledger PositionLedger,
	watched storage.WatchedTokenStore,
	prices oracle.Provider,
	notifier notify.Notifier,
) *Trader {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Trader{
		logger:      logger.With(zap.String("component", "trader")),
		config:      cfg,
		client:      client,
		quotes:      quotes,
		ledger:      ledger,
		watched:     watched,
		prices:      prices,
		notifier:    notifier,
		slippageBps: SlippageBps(cfg.Trading.SlippagePercent),
		deadline:    time.Duration(cfg.Trading.DeadlineMinutes) * time.Minute,
		now:         time.Now,
	}
}

// Buy 用 nativeAmount 个原生币买入代币
func (t *Trader) Buy(ctx context.Context, tokenAddress, nativeAmount string) *TradeResult {
	res := &TradeResult{Side: SideBuy, TokenAddress: model.NormalizeAddress(tokenAddress)}
	nativeDecimals := t.config.Chain.NativeDecimals

	// VALIDATE_INPUT
	token, err := parseTokenAddress(tokenAddress)
	if err != nil {
		return t.fail(res, newTradeError(exchange.KindInvalidInput, StepValidateInput, err))
	}
	amount, err := parsePositiveAmount(nativeAmount)
	if err != nil {
		return t.fail(res, newTradeError(exchange.KindInvalidInput, StepValidateInput, err))
	}
	amountIn := exchange.ToBaseUnits(amount, nativeDecimals)
	if amountIn.Sign() <= 0 {
		return t.fail(res, newTradeError(exchange.KindInvalidInput, StepValidateInput, fmt.Errorf("数量低于最小单位: %s", nativeAmount)))
	}
	res.NativeAmount = amount

	// VALIDATE_TOKEN
	meta, terr := t.validateToken(ctx, token)
	if terr != nil {
		return t.fail(res, terr)
	}
	res.TokenSymbol = meta.Symbol

	nativeBalance, err := t.client.NativeBalance(ctx)
	if err != nil {
		return t.fail(res, classified(StepCheckBalance, err))
	}
	if nativeBalance.Cmp(amountIn) < 0 {
		return t.fail(res, newTradeError(exchange.KindInsufficientFunds, StepCheckBalance,
			fmt.Errorf("余额 %s %s，需要 %s", exchange.FromBaseUnits(nativeBalance, nativeDecimals), t.config.Chain.NativeSymbol, amount)))
	}

	// GET_BEST_ROUTE
	best, err := t.quotes.GetBestRoute(ctx, token, amountIn, true)
	if err != nil {
		return t.fail(res, newTradeError(exchange.KindNoRoute, StepGetBestRoute, err))
	}
	res.Route = best.Best.Route.String()
	res.Improvement = best.Comparison.Improvement
	res.ExpectedOutput = exchange.FromBaseUnits(best.Best.ExpectedOutput, meta.Decimals)

	// COMPUTE_MIN_OUTPUT
	minOut := MinOutput(best.Best.ExpectedOutput, t.slippageBps)
	res.MinOutput = exchange.FromBaseUnits(minOut, meta.Decimals)

	tokenBefore, balanceErr := t.client.TokenBalance(ctx, token)
	if balanceErr != nil {
		t.logger.Warn("读取买入前代币余额失败，成交数量将使用报价", zap.Error(balanceErr))
	}

	// SUBMIT_SWAP / AWAIT_RECEIPT
	receipt, err := t.client.Swap(ctx, exchange.SwapRequest{
		Route:        best.Best.Route,
		Direction:    exchange.DirectionBuy,
		Token:        token,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Deadline:     t.now().Add(t.deadline),
	})
	if err != nil {
		if receipt != nil {
			res.TxHash = receipt.TxHash
		}
		return t.fail(res, classified(StepSubmitSwap, err))
	}
	res.TxHash = receipt.TxHash
	res.GasCost = exchange.FromBaseUnits(receipt.GasCost(), nativeDecimals)

	received := best.Best.ExpectedOutput
	if balanceErr == nil {
		if delta, ok := t.tokenDelta(ctx, token, tokenBefore); ok {
			received = delta
		}
	}
	res.TokenAmount = exchange.FromBaseUnits(received, meta.Decimals)
	res.Success = true

	// RECORD_LEDGER
	recordID, err := t.ledger.RecordBuy(ctx, accounting.BuyFill{
		TokenAddress:   res.TokenAddress,
		TokenSymbol:    meta.Symbol,
		NativeAmount:   res.NativeAmount,
		TokenAmount:    res.TokenAmount,
		ReferencePrice: t.referencePrice(ctx),
		GasCost:        res.GasCost,
		TxHash:         res.TxHash,
		Route:          res.Route,
	})
	if err != nil {
		res.LedgerWarning = fmt.Sprintf("交易已成功但记账失败，请人工核对: %v", err)
	} else {
		res.RecordID = recordID
	}
	if err := t.watched.Add(ctx, res.TokenAddress); err != nil {
		t.logger.Warn("加入观察列表失败", zap.String("token", res.TokenAddress), zap.Error(err))
	}

	// EMIT_NOTIFICATION
	t.emit(ctx, res, notify.BuildBuyMessage(notify.BuyDetails{
		TokenAddress: res.TokenAddress,
		TokenSymbol:  meta.Symbol,
		NativeSymbol: t.config.Chain.NativeSymbol,
		NativeSpent:  res.NativeAmount,
		TokensGot:    res.TokenAmount,
		TxHash:       res.TxHash,
		Route:        res.Route,
	}, t.now()))

	t.logger.Info("买入完成",
		zap.String("token", res.TokenAddress),
		zap.String("symbol", meta.Symbol),
		zap.String("native", res.NativeAmount.String()),
		zap.String("tokens", res.TokenAmount.String()),
		zap.String("route", res.Route),
		zap.String("tx_hash", res.TxHash))
	return res
}

// Sell 卖出代币，amountSpec 支持具体数量、百分比和 all
func (t *Trader) Sell(ctx context.Context, tokenAddress, amountSpec string) *TradeResult {
	res := &TradeResult{Side: SideSell, TokenAddress: model.NormalizeAddress(tokenAddress)}
	nativeDecimals := t.config.Chain.NativeDecimals

	// VALIDATE_INPUT
	token, err := parseTokenAddress(tokenAddress)
	if err != nil {
		return t.fail(res, newTradeError(exchange.KindInvalidInput, StepValidateInput, err))
	}
	spec, err := ParseSellAmount(amountSpec)
	if err != nil {
		return t.fail(res, newTradeError(exchange.KindInvalidInput, StepValidateInput, err))
	}

	// VALIDATE_TOKEN
	meta, terr := t.validateToken(ctx, token)
	if terr != nil {
		return t.fail(res, terr)
	}
	res.TokenSymbol = meta.Symbol

	balance, err := t.client.TokenBalance(ctx, token)
	if err != nil {
		return t.fail(res, classified(StepCheckBalance, err))
	}
	amountIn := spec.Resolve(balance, meta.Decimals)
	if amountIn.Sign() <= 0 {
		kind := exchange.KindInvalidInput
		if balance.Sign() == 0 {
			kind = exchange.KindInsufficientFunds
		}
		return t.fail(res, newTradeError(kind, StepCheckBalance, fmt.Errorf("可卖出数量为0，余额 %s", exchange.FromBaseUnits(balance, meta.Decimals))))
	}
	if amountIn.Cmp(balance) > 0 {
		return t.fail(res, newTradeError(exchange.KindInsufficientFunds, StepCheckBalance,
			fmt.Errorf("余额 %s %s，需要 %s", exchange.FromBaseUnits(balance, meta.Decimals), meta.Symbol, exchange.FromBaseUnits(amountIn, meta.Decimals))))
	}
	res.TokenAmount = exchange.FromBaseUnits(amountIn, meta.Decimals)

	// GET_BEST_ROUTE
	best, err := t.quotes.GetBestRoute(ctx, token, amountIn, false)
	if err != nil {
		return t.fail(res, newTradeError(exchange.KindNoRoute, StepGetBestRoute, err))
	}
	res.Route = best.Best.Route.String()
	res.Improvement = best.Comparison.Improvement
	res.ExpectedOutput = exchange.FromBaseUnits(best.Best.ExpectedOutput, nativeDecimals)

	// COMPUTE_MIN_OUTPUT
	minOut := MinOutput(best.Best.ExpectedOutput, t.slippageBps)
	res.MinOutput = exchange.FromBaseUnits(minOut, nativeDecimals)

	// AUTHORIZE
	approveHash, terr := t.ensureAllowance(ctx, token, best.Best.Route, amountIn)
	if terr != nil {
		return t.fail(res, terr)
	}
	res.ApproveTxHash = approveHash

	nativeBefore, balanceErr := t.client.NativeBalance(ctx)
	if balanceErr != nil {
		t.logger.Warn("读取卖出前原生币余额失败，收到数量将使用报价", zap.Error(balanceErr))
	}

	// SUBMIT_SWAP / AWAIT_RECEIPT
	receipt, err := t.client.Swap(ctx, exchange.SwapRequest{
		Route:        best.Best.Route,
		Direction:    exchange.DirectionSell,
		Token:        token,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Deadline:     t.now().Add(t.deadline),
	})
	if err != nil {
		if receipt != nil {
			res.TxHash = receipt.TxHash
		}
		return t.fail(res, classified(StepSubmitSwap, err))
	}
	res.TxHash = receipt.TxHash
	gasWei := receipt.GasCost()
	res.GasCost = exchange.FromBaseUnits(gasWei, nativeDecimals)

	received := best.Best.ExpectedOutput
	if balanceErr == nil {
		if after, err := t.client.NativeBalance(ctx); err == nil {
			// 手续费从同一钱包扣除，加回后才是兑换所得
			delta := new(big.Int).Sub(after, nativeBefore)
			delta.Add(delta, gasWei)
			if delta.Sign() > 0 {
				received = delta
			}
		}
	}
	res.NativeAmount = exchange.FromBaseUnits(received, nativeDecimals)
	res.Success = true

	if remaining, err := t.client.TokenBalance(ctx, token); err != nil {
		t.logger.Warn("读取卖出后代币余额失败", zap.Error(err))
	} else if remaining.Sign() == 0 {
		if err := t.watched.Remove(ctx, res.TokenAddress); err != nil {
			t.logger.Warn("移出观察列表失败", zap.String("token", res.TokenAddress), zap.Error(err))
		}
	}

	// RECORD_LEDGER
	outcome, err := t.ledger.RecordSell(ctx, accounting.SellFill{
		TokenAddress:   res.TokenAddress,
		TokenSymbol:    meta.Symbol,
		TokenAmount:    res.TokenAmount,
		NativeReceived: res.NativeAmount,
		ReferencePrice: t.referencePrice(ctx),
		GasCost:        res.GasCost,
		TxHash:         res.TxHash,
		Route:          res.Route,
	})
	switch {
	case errors.Is(err, accounting.ErrNoOpenLots):
		res.LedgerWarning = "没有对应的买入记录，本次卖出未计算盈亏"
	case err != nil:
		res.LedgerWarning = fmt.Sprintf("交易已成功但记账失败，请人工核对: %v", err)
	default:
		res.RecordID = outcome.RecordID
		res.CostBasis = &outcome.TotalCostBasis
		res.Profit = &outcome.Profit
		res.ProfitPercentage = &outcome.ProfitPercentage
	}

	// EMIT_NOTIFICATION
	t.emit(ctx, res, notify.BuildSellMessage(notify.SellDetails{
		TokenAddress:  res.TokenAddress,
		TokenSymbol:   meta.Symbol,
		NativeSymbol:  t.config.Chain.NativeSymbol,
		TokensSold:    res.TokenAmount,
		NativeGot:     res.NativeAmount,
		Profit:        res.Profit,
		ProfitPercent: res.ProfitPercentage,
		TxHash:        res.TxHash,
		Route:         res.Route,
	}, t.now()))

	t.logger.Info("卖出完成",
		zap.String("token", res.TokenAddress),
		zap.String("symbol", meta.Symbol),
		zap.String("tokens", res.TokenAmount.String()),
		zap.String("native", res.NativeAmount.String()),
		zap.String("route", res.Route),
		zap.String("tx_hash", res.TxHash))
	return res
}

// Quote 预览最优路由，不发送交易
func (t *Trader) Quote(ctx context.Context, tokenAddress, amount string, isBuy bool) (*QuotePreview, *TradeError) {
	token, err := parseTokenAddress(tokenAddress)
	if err != nil {
		return nil, newTradeError(exchange.KindInvalidInput, StepValidateInput, err)
	}
	human, err := parsePositiveAmount(amount)
	if err != nil {
		return nil, newTradeError(exchange.KindInvalidInput, StepValidateInput, err)
	}
	meta, terr := t.validateToken(ctx, token)
	if terr != nil {
		return nil, terr
	}

	inDecimals, outDecimals := t.config.Chain.NativeDecimals, meta.Decimals
	side := SideBuy
	if !isBuy {
		inDecimals, outDecimals = outDecimals, inDecimals
		side = SideSell
	}

	amountIn := exchange.ToBaseUnits(human, inDecimals)
	best, err := t.quotes.GetBestRoute(ctx, token, amountIn, isBuy)
	if err != nil {
		return nil, newTradeError(exchange.KindNoRoute, StepGetBestRoute, err)
	}

	preview := &QuotePreview{
		Side:           side,
		TokenAddress:   model.NormalizeAddress(tokenAddress),
		TokenSymbol:    meta.Symbol,
		AmountIn:       human,
		Route:          best.Best.Route.String(),
		ExpectedOutput: exchange.FromBaseUnits(best.Best.ExpectedOutput, outDecimals),
		MinOutput:      exchange.FromBaseUnits(MinOutput(best.Best.ExpectedOutput, t.slippageBps), outDecimals),
		Improvement:    best.Comparison.Improvement,
		Candidates:     make(map[string]decimal.Decimal, len(best.AllQuotes)),
	}
	for _, q := range best.AllQuotes {
		preview.Candidates[q.Route.String()] = exchange.FromBaseUnits(q.ExpectedOutput, outDecimals)
	}
	return preview, nil
}

// validateToken 地址必须是合约且实现ERC20
func (t *Trader) validateToken(ctx context.Context, token common.Address) (*exchange.TokenMetadata, *TradeError) {
	meta, err := t.client.TokenMetadata(ctx, token)
	if err != nil {
		kind := exchange.ClassifyError(err)
		if kind != exchange.KindNetwork {
			kind = exchange.KindInvalidToken
		}
		return nil, newTradeError(kind, StepValidateToken, err)
	}
	return meta, nil
}

// ensureAllowance 授权不足时发送无限额授权并等待确认
func (t *Trader) ensureAllowance(ctx context.Context, token common.Address, route exchange.Route, amount *big.Int) (string, *TradeError) {
	spender := t.client.SpenderFor(route)
	allowance, err := t.client.Allowance(ctx, token, spender)
	if err != nil {
		return "", classified(StepAuthorize, err)
	}
	if allowance.Cmp(amount) >= 0 {
		return "", nil
	}

	t.logger.Info("授权额度不足，发送授权交易",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("allowance", allowance.String()))

	receipt, err := t.client.Approve(ctx, token, spender, math.MaxBig256)
	if err != nil {
		kind := exchange.ClassifyError(err)
		if kind != exchange.KindNetwork && kind != exchange.KindInsufficientFunds {
			kind = exchange.KindAuthorizationFailed
		}
		return "", newTradeError(kind, StepAuthorize, err)
	}
	return receipt.TxHash, nil
}

func (t *Trader) tokenDelta(ctx context.Context, token common.Address, before *big.Int) (*big.Int, bool) {
	after, err := t.client.TokenBalance(ctx, token)
	if err != nil {
		t.logger.Warn("读取买入后代币余额失败，成交数量将使用报价", zap.Error(err))
		return nil, false
	}
	delta := new(big.Int).Sub(after, before)
	if delta.Sign() <= 0 {
		return nil, false
	}
	return delta, true
}

// referencePrice 参考价格只用于记录，失败时记为0
func (t *Trader) referencePrice(ctx context.Context) decimal.Decimal {
	if t.prices == nil {
		return decimal.Zero
	}
	price, err := t.prices.NativePrice(ctx)
	if err != nil {
		t.logger.Warn("获取参考价格失败", zap.Error(err))
		return decimal.Zero
	}
	return price
}

func (t *Trader) emit(ctx context.Context, res *TradeResult, msg notify.Message) {
	published, err := t.notifier.Publish(ctx, msg)
	if err != nil {
		t.logger.Warn("发送交易通知失败", zap.String("tx_hash", res.TxHash), zap.Error(err))
		return
	}
	res.NotificationID = published.ID
}

func (t *Trader) fail(res *TradeResult, err *TradeError) *TradeResult {
	res.Success = false
	res.Err = err
	t.logger.Warn("交易失败",
		zap.String("side", string(res.Side)),
		zap.String("token", res.TokenAddress),
		zap.String("step", string(err.Step)),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err))
	return res
}

// classified 按错误文本归类
func classified(step TradeStep, err error) *TradeError {
	return newTradeError(exchange.ClassifyError(err), step, err)
}

func parseTokenAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("无效的代币地址: %s", s)
	}
	return common.HexToAddress(s), nil
}
