package version

import "github.com/acunu/castlefs/metrics"

// Package-level meters, registered against the default registry the same
// way geth's packages register their own metrics independent of any
// specific Manager instance.
var (
	linkedMeter    = metrics.NewRegisteredMeter("version/processor/linked", nil)
	rejectedMeter  = metrics.NewRegisteredMeter("version/processor/rejected", nil)
	renumberTimer  = metrics.NewRegisteredTimer("version/processor/renumber", nil)
	queueDepthGauge = metrics.NewRegisteredGauge("version/queue/depth", nil)

	newMeter    = metrics.NewRegisteredMeter("version/manager/new", nil)
	deleteMeter = metrics.NewRegisteredMeter("version/manager/delete", nil)

	bootstrapTimer = metrics.NewRegisteredTimer("version/manager/bootstrap", nil)
	writebackTimer = metrics.NewRegisteredTimer("version/manager/writeback", nil)
)
