package store

import (
	"github.com/shopspring/decimal"

	"riskguard/internal/schema"
	"riskguard/internal/state"
)

// SnapshotRecord is one exported ledger snapshot.
type SnapshotRecord struct {
	ID               uint            `gorm:"primaryKey"`
	InstanceID       string          `gorm:"size:64;index"`
	TakenAt          int64           `gorm:"index"`
	LastReset        int64           `gorm:"not null"`
	DailyRealizedPnL decimal.Decimal `gorm:"type:numeric;not null"`
	DailyFills       int             `gorm:"not null"`
	OpenPositions    int             `gorm:"not null"`
	Halted           bool            `gorm:"not null"`
	HaltReason       string
	Positions        []PositionRecord `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
}

func (SnapshotRecord) TableName() string {
	return "ledger_snapshots"
}

// PositionRecord is one symbol entry of a snapshot.
type PositionRecord struct {
	ID            uint                `gorm:"primaryKey"`
	SnapshotID    uint                `gorm:"index;not null"`
	Symbol        string              `gorm:"size:32;not null"`
	Qty           decimal.Decimal     `gorm:"type:numeric;not null"`
	AvgPrice      decimal.NullDecimal `gorm:"type:numeric"`
	RealizedPnL   decimal.Decimal     `gorm:"type:numeric;not null"`
	UnrealizedPnL decimal.NullDecimal `gorm:"type:numeric"`
}

func (PositionRecord) TableName() string {
	return "ledger_positions"
}

func toRecord(snapshot state.Snapshot) SnapshotRecord {
	rec := SnapshotRecord{
		InstanceID:       snapshot.InstanceID,
		TakenAt:          snapshot.Timestamp,
		LastReset:        snapshot.LastReset,
		DailyRealizedPnL: snapshot.DailyRealizedPnL,
		DailyFills:       snapshot.DailyFills,
		OpenPositions:    snapshot.OpenPositions,
		Halted:           snapshot.Halted,
		HaltReason:       snapshot.HaltReason,
		Positions:        make([]PositionRecord, 0, len(snapshot.Positions)),
	}
	for _, entry := range snapshot.Positions {
		rec.Positions = append(rec.Positions, PositionRecord{
			Symbol:        entry.Symbol.String(),
			Qty:           entry.Qty,
			AvgPrice:      nullable(entry.AvgPrice),
			RealizedPnL:   entry.RealizedPnL,
			UnrealizedPnL: nullable(entry.UnrealizedPnL),
		})
	}
	return rec
}

func fromRecord(rec SnapshotRecord) state.Snapshot {
	snapshot := state.Snapshot{
		Timestamp:        rec.TakenAt,
		InstanceID:       rec.InstanceID,
		LastReset:        rec.LastReset,
		DailyRealizedPnL: rec.DailyRealizedPnL,
		DailyFills:       rec.DailyFills,
		OpenPositions:    rec.OpenPositions,
		Halted:           rec.Halted,
		HaltReason:       rec.HaltReason,
		Positions:        make([]state.PositionEntry, 0, len(rec.Positions)),
	}
	for _, p := range rec.Positions {
		snapshot.Positions = append(snapshot.Positions, state.PositionEntry{
			Symbol:        schema.Symbol(p.Symbol),
			Qty:           p.Qty,
			AvgPrice:      optional(p.AvgPrice),
			RealizedPnL:   p.RealizedPnL,
			UnrealizedPnL: optional(p.UnrealizedPnL),
		})
	}
	return snapshot
}

func nullable(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*v)
}

func optional(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}
