package model

import "sort"

// lotIndex 按代币维护的持有批次有序列表
//
// 账本加载后首次访问时构建，追加 BUY 时维护；已售罄的批次在访问时从队首剔除。
type lotIndex struct {
	byToken map[string][]*TradeRecord
}

func buildLotIndex(trades []*TradeRecord) *lotIndex {
	idx := &lotIndex{byToken: make(map[string][]*TradeRecord)}
	for _, t := range trades {
		if t.IsOpenLot() {
			key := NormalizeAddress(t.TokenAddress)
			idx.byToken[key] = append(idx.byToken[key], t)
		}
	}
	for _, lots := range idx.byToken {
		sortLots(lots)
	}
	return idx
}

func (idx *lotIndex) add(rec *TradeRecord) {
	key := NormalizeAddress(rec.TokenAddress)
	lots := append(idx.byToken[key], rec)
	n := len(lots)
	if n > 1 && lots[n-1].Timestamp.Before(lots[n-2].Timestamp) {
		sortLots(lots)
	}
	idx.byToken[key] = lots
}

func (idx *lotIndex) open(token string) []*TradeRecord {
	lots := idx.byToken[token]
	kept := lots[:0]
	for _, l := range lots {
		if l.IsOpenLot() {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(idx.byToken, token)
		return nil
	}
	idx.byToken[token] = kept
	return append([]*TradeRecord(nil), kept...)
}

// sortLots 按时间升序，时间相同保持写入顺序
func sortLots(lots []*TradeRecord) {
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].Timestamp.Before(lots[j].Timestamp)
	})
}
