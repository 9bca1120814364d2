package domain

// PriceLevel 订单簿的一个价位
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookDelta 订单簿增量（size=0 表示删除该价位）
// 全量快照也用同一结构表示
type OrderBookDelta struct {
	Bids []PriceLevel
	Asks []PriceLevel
}
