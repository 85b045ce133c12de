package simulation

import (
	"math"
	"time"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/clock"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/config"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
)

// Connection is the scripted join sequence of the device and server links.
//
// Each step is scheduled from the previous step's callback and carries the
// generation it was started under. Disconnect and Reset bump the generation,
// so steps left over from an abandoned sequence do nothing when they fire.
type Connection struct {
	sched  clock.Scheduler
	cfg    *config.SimulationConfig
	status models.ConnectionStatus
	gen    uint64

	// onChange is called after every transition with the previous status
	onChange func(prev, next models.ConnectionStatus)
}

// NewConnection creates a connection with both links down
func NewConnection(sched clock.Scheduler, cfg *config.SimulationConfig, onChange func(prev, next models.ConnectionStatus)) *Connection {
	if onChange == nil {
		onChange = func(prev, next models.ConnectionStatus) {}
	}
	c := &Connection{sched: sched, cfg: cfg, onChange: onChange}
	c.status = c.down()
	return c
}

// Status returns the current link status
func (c *Connection) Status() models.ConnectionStatus {
	return c.status
}

// Connect starts the join sequence for devEUI, abandoning any sequence in
// progress.
func (c *Connection) Connect(devEUI string) {
	c.gen++
	c.status = c.down()
	c.status.DevEUI = devEUI
	c.deviceStep(0, c.gen)
}

// Disconnect drops the server link now and the device link after the
// configured delay.
func (c *Connection) Disconnect() {
	c.gen++
	gen := c.gen

	if c.status.Server != models.ServerDisconnected {
		c.update(func(s *models.ConnectionStatus) {
			s.Server = models.ServerDisconnected
		})
	}

	c.after(c.cfg.DisconnectDelay, func() {
		if gen != c.gen {
			return
		}
		if c.status.Device == models.DeviceDisconnected {
			return
		}
		c.update(func(s *models.ConnectionStatus) {
			s.Device = models.DeviceDisconnected
			s.SignalStrength = c.cfg.Signal.Floor
		})
	})
}

// Reset cancels every pending step and puts both links down at once
func (c *Connection) Reset() {
	c.gen++
	prev := c.status
	c.status = c.down()
	c.status.DevEUI = ""
	if prev.Device != c.status.Device || prev.Server != c.status.Server || prev.SignalStrength != c.status.SignalStrength {
		c.onChange(prev, c.status)
	}
}

// Nudge shifts the signal strength by delta while the device is connected,
// clamped to the configured floor and ceiling.
func (c *Connection) Nudge(delta float64) {
	if c.status.Device != models.DeviceConnected {
		return
	}
	c.update(func(s *models.ConnectionStatus) {
		v := s.SignalStrength + delta
		s.SignalStrength = math.Max(c.cfg.Signal.Floor, math.Min(c.cfg.Signal.Ceiling, v))
	})
}

func (c *Connection) deviceStep(i int, gen uint64) {
	step := c.cfg.ConnectionSteps[i]
	c.after(step.Delay, func() {
		if gen != c.gen {
			return
		}
		c.update(func(s *models.ConnectionStatus) {
			s.Device = step.State
			if step.State == models.DeviceConnected {
				s.SignalStrength = c.cfg.Signal.Nominal
			}
		})

		if i+1 < len(c.cfg.ConnectionSteps) {
			c.deviceStep(i+1, gen)
			return
		}
		c.serverStep(0, gen)
	})
}

func (c *Connection) serverStep(i int, gen uint64) {
	step := c.cfg.ServerSteps[i]
	c.after(step.Delay, func() {
		if gen != c.gen {
			return
		}
		c.update(func(s *models.ConnectionStatus) {
			s.Server = step.State
		})

		if i+1 < len(c.cfg.ServerSteps) {
			c.serverStep(i+1, gen)
		}
	})
}

// after runs zero-delay steps inline so the first step is visible as soon
// as Connect returns.
func (c *Connection) after(d time.Duration, f func()) {
	if d <= 0 {
		f()
		return
	}
	c.sched.AfterFunc(d, f)
}

func (c *Connection) update(mutate func(s *models.ConnectionStatus)) {
	prev := c.status
	mutate(&c.status)
	c.status.SignalBars = models.SignalBars(c.status.SignalStrength)
	c.onChange(prev, c.status)
}

func (c *Connection) down() models.ConnectionStatus {
	return models.ConnectionStatus{
		DevEUI:         c.status.DevEUI,
		Device:         models.DeviceDisconnected,
		Server:         models.ServerDisconnected,
		SignalStrength: c.cfg.Signal.Floor,
		SignalBars:     models.SignalBars(c.cfg.Signal.Floor),
	}
}
