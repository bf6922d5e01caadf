package models

import "time"

type EventKind string

const (
	EventRecoveryTriggered     EventKind = "RecoveryTriggered"
	EventRecoveryTimedOut      EventKind = "RecoveryTimedOut"
	EventContinuationTriggered EventKind = "ContinuationTriggered"
	EventContinuationTimedOut  EventKind = "ContinuationTimedOut"
	EventTargetReached         EventKind = "TargetReached"
)

// MonitorEvent: то, что PriceMonitor отдаёт координаторам.
type MonitorEvent struct {
	Kind     EventKind
	Watch    *Watch
	Position *Position
	Price    float64
	At       time.Time
}

// ChainKey: ключ упорядочивания событий (FIFO на цепочку).
func (e MonitorEvent) ChainKey() string {
	if e.Watch != nil {
		return e.Watch.ChainID
	}
	if e.Position != nil {
		if e.Position.ChainID != "" {
			return e.Position.ChainID
		}
		return e.Position.ID
	}
	return ""
}

// NotifyKind: тип уведомления для sink.
type NotifyKind string

const (
	NotifyOrderPlaced        NotifyKind = "order_placed"
	NotifyOrderFailed        NotifyKind = "order_failed"
	NotifyRiskRejected       NotifyKind = "risk_rejected"
	NotifyPositionClosed     NotifyKind = "position_closed"
	NotifyCloseFailed        NotifyKind = "close_failed"
	NotifyReentryExecuted    NotifyKind = "reentry_executed"
	NotifyReentrySkipped     NotifyKind = "reentry_skipped"
	NotifyReentryFailed      NotifyKind = "reentry_failed"
	NotifyRecoveryArmed      NotifyKind = "recovery_armed"
	NotifyRecoveryTimeout    NotifyKind = "recovery_timeout"
	NotifyRecoveryExhausted  NotifyKind = "recovery_exhausted"
	NotifyProfitBooked       NotifyKind = "profit_booked"
	NotifyProfitBlocked      NotifyKind = "profit_protection_blocked"
	NotifyProfitComplete     NotifyKind = "profit_chain_complete"
	NotifyExitDecision       NotifyKind = "exit_decision"
	NotifyReconciled         NotifyKind = "reconciled"
	NotifyCircuitOpen        NotifyKind = "circuit_open"
	NotifyStateInconsistency NotifyKind = "state_inconsistency"
)
