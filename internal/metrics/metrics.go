package metrics

import "expvar"

var (
	ReconcileRuns    = expvar.NewInt("reconcile_runs")
	ReconcileErrors  = expvar.NewInt("reconcile_errors")
	OrdersPlaced     = expvar.NewInt("orders_placed")
	OrdersDeclined   = expvar.NewInt("orders_declined")
	OrdersCancelled  = expvar.NewInt("orders_cancelled")
	CancelFailures   = expvar.NewInt("cancel_failures")
	FillsApplied     = expvar.NewInt("fills_applied")
	DecodeErrors     = expvar.NewInt("decode_errors")
	BookUpdates      = expvar.NewInt("book_updates")
	StreamReconnects = expvar.NewInt("stream_reconnects")
	SnapshotSaves    = expvar.NewInt("snapshot_saves")
	SnapshotLoads    = expvar.NewInt("snapshot_loads")
)
