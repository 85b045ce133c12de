package simulation

import (
	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
)

// Presenter receives the lab's render hooks. Every method is invoked on the
// lab's scheduler, so implementations must return quickly and must not call
// back into the Lab.
type Presenter interface {
	OnConnectionStateChanged(status models.ConnectionStatus)
	OnReadingsUpdated(readings []models.SensorReading, history map[models.SensorKind][]float64)
	OnStatsUpdated(stats models.Stats)
	OnLogAppended(entry models.LogEntry)
	OnPacketStage(packet models.Packet, stage models.RelayStage)
}

// Presenters fans every hook out to each element in order
type Presenters []Presenter

func (ps Presenters) OnConnectionStateChanged(status models.ConnectionStatus) {
	for _, p := range ps {
		p.OnConnectionStateChanged(status)
	}
}

func (ps Presenters) OnReadingsUpdated(readings []models.SensorReading, history map[models.SensorKind][]float64) {
	for _, p := range ps {
		p.OnReadingsUpdated(readings, history)
	}
}

func (ps Presenters) OnStatsUpdated(stats models.Stats) {
	for _, p := range ps {
		p.OnStatsUpdated(stats)
	}
}

func (ps Presenters) OnLogAppended(entry models.LogEntry) {
	for _, p := range ps {
		p.OnLogAppended(entry)
	}
}

func (ps Presenters) OnPacketStage(packet models.Packet, stage models.RelayStage) {
	for _, p := range ps {
		p.OnPacketStage(packet, stage)
	}
}

// NopPresenter ignores every hook. Embed it to implement a subset.
type NopPresenter struct{}

func (NopPresenter) OnConnectionStateChanged(models.ConnectionStatus)                          {}
func (NopPresenter) OnReadingsUpdated([]models.SensorReading, map[models.SensorKind][]float64) {}
func (NopPresenter) OnStatsUpdated(models.Stats)                                               {}
func (NopPresenter) OnLogAppended(models.LogEntry)                                             {}
func (NopPresenter) OnPacketStage(models.Packet, models.RelayStage)                            {}
