package store

type PositionModel struct {
	ID          string  `gorm:"column:id;primaryKey"`
	Symbol      string  `gorm:"column:symbol;index"`
	Direction   string  `gorm:"column:direction"`
	Entry       float64 `gorm:"column:entry"`
	Size        float64 `gorm:"column:size"`
	Leverage    int     `gorm:"column:leverage"`
	StopLoss    float64 `gorm:"column:stop_loss"`
	TP1         float64 `gorm:"column:tp1"`
	TP2         float64 `gorm:"column:tp2"`
	MaxRisk     float64 `gorm:"column:max_risk"`
	State       string  `gorm:"column:state"`
	EntryPrice  float64 `gorm:"column:entry_price"`
	FilledSize  float64 `gorm:"column:filled_size"`
	ClosedSize  float64 `gorm:"column:closed_size"`
	CurrentStop float64 `gorm:"column:current_stop"`
	RealizedPnL float64 `gorm:"column:realized_pnl"`
	CloseReason string  `gorm:"column:close_reason"`
	Orphaned    bool    `gorm:"column:orphaned"`
	OpenedAt    int64   `gorm:"column:opened_at"`
	ClosedAt    int64   `gorm:"column:closed_at"`
}

func (PositionModel) TableName() string { return "positions" }

type TradeEventModel struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	EventID     string  `gorm:"column:event_id;uniqueIndex"`
	PositionID  string  `gorm:"column:position_id;index"`
	Symbol      string  `gorm:"column:symbol"`
	Type        string  `gorm:"column:type"`
	State       string  `gorm:"column:state"`
	Reason      string  `gorm:"column:reason"`
	Price       float64 `gorm:"column:price"`
	Quantity    float64 `gorm:"column:quantity"`
	RealizedPnL float64 `gorm:"column:realized_pnl"`
	At          int64   `gorm:"column:at"`
}

func (TradeEventModel) TableName() string { return "trade_events" }
