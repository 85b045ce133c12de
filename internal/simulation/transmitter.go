package simulation

import (
	"time"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/clock"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/config"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
)

// TransmitHooks connect a Transmitter to the session it sends for
type TransmitHooks struct {
	// Build creates the next uplink and accounts for it as sent
	Build func() models.Packet
	// Stage reports the hop a packet has just entered
	Stage func(pkt models.Packet, stage models.RelayStage)
	// Delivered is called once a packet has passed every hop
	Delivered func(pkt models.Packet)
	// Delay returns the wait before the next cycle
	Delay func() time.Duration
}

// Transmitter runs the self-rescheduling uplink cycle.
//
// Pause stops rescheduling but lets packets already on the air finish their
// relay. Cancel additionally drops them, which keeps a reset session from
// receiving packets sent before the reset.
type Transmitter struct {
	sched  clock.Scheduler
	stages []config.RelayStep
	hooks  TransmitHooks

	active bool
	gen    uint64
	next   clock.Timer
}

// NewTransmitter creates an idle transmitter
func NewTransmitter(sched clock.Scheduler, stages []config.RelayStep, hooks TransmitHooks) *Transmitter {
	return &Transmitter{sched: sched, stages: stages, hooks: hooks}
}

// Active reports whether cycles are being scheduled
func (t *Transmitter) Active() bool {
	return t.active
}

// Start sends the first uplink immediately and keeps cycling until paused.
// Starting an active transmitter does nothing.
func (t *Transmitter) Start() {
	if t.active {
		return
	}
	t.active = true
	t.cycle()
}

// Pause stops scheduling new cycles
func (t *Transmitter) Pause() {
	t.active = false
	if t.next != nil {
		t.next.Stop()
		t.next = nil
	}
}

// Cancel pauses and abandons every packet still being relayed
func (t *Transmitter) Cancel() {
	t.Pause()
	t.gen++
}

func (t *Transmitter) cycle() {
	if !t.active {
		return
	}

	pkt := t.hooks.Build()
	t.relay(pkt, 0, t.gen)

	// relay hooks may have paused us
	if t.active {
		t.next = t.sched.AfterFunc(t.hooks.Delay(), t.cycle)
	}
}

func (t *Transmitter) relay(pkt models.Packet, hop int, gen uint64) {
	if hop == len(t.stages) {
		pkt.Stage = models.StageDelivered
		t.hooks.Stage(pkt, models.StageDelivered)
		t.hooks.Delivered(pkt)
		return
	}

	step := t.stages[hop]
	pkt.Stage = step.Stage
	t.hooks.Stage(pkt, step.Stage)

	t.sched.AfterFunc(step.Delay, func() {
		if gen != t.gen {
			return
		}
		t.relay(pkt, hop+1, gen)
	})
}
