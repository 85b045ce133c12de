package simulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/pkg/lorawan"
)

// ErrUnknownCommand is returned by Apply for an unrecognised command name
var ErrUnknownCommand = errors.New("unknown command")

// Command names accepted by Apply
const (
	CommandSelectDevice = "select-device"
	CommandSetRadio     = "set-radio"
	CommandSetSensor    = "set-sensor"
	CommandSetInterval  = "set-interval"
	CommandActivate     = "activate"
	CommandDeactivate   = "deactivate"
	CommandStart        = "start"
	CommandPause        = "pause"
	CommandReset        = "reset"
)

// Command is a serialisable lab command, used by remote control channels.
// Only the fields relevant to Name are read.
type Command struct {
	Name       string                 `json:"command" msgpack:"command"`
	Profile    string                 `json:"profile,omitempty" msgpack:"profile,omitempty"`
	Radio      *lorawan.RadioConfig   `json:"radio,omitempty" msgpack:"radio,omitempty"`
	Sensor     models.SensorKind      `json:"sensor,omitempty" msgpack:"sensor,omitempty"`
	Enabled    bool                   `json:"enabled,omitempty" msgpack:"enabled,omitempty"`
	Identity   *models.DeviceIdentity `json:"identity,omitempty" msgpack:"identity,omitempty"`
	IntervalMs int64                  `json:"intervalMs,omitempty" msgpack:"intervalMs,omitempty"`
}

// Apply runs cmd against the lab
func (l *Lab) Apply(cmd Command) error {
	switch cmd.Name {
	case CommandSelectDevice:
		return l.SelectDevice(cmd.Profile)
	case CommandSetRadio:
		if cmd.Radio == nil {
			return fmt.Errorf("%w: radio is required", ErrInvalidRadioConfig)
		}
		return l.SetRadioConfig(*cmd.Radio)
	case CommandSetSensor:
		return l.SetSensorEnabled(cmd.Sensor, cmd.Enabled)
	case CommandSetInterval:
		return l.SetUpdateInterval(time.Duration(cmd.IntervalMs) * time.Millisecond)
	case CommandActivate:
		var id models.DeviceIdentity
		if cmd.Identity != nil {
			id = *cmd.Identity
		}
		return l.Activate(id)
	case CommandDeactivate:
		return l.Deactivate()
	case CommandStart:
		return l.Start()
	case CommandPause:
		return l.Pause()
	case CommandReset:
		l.Reset()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
}

// IsUserError reports whether err was caused by the command rather than the
// lab, i.e. retrying the same command cannot succeed.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrInvalidIdentity, ErrUnknownSensor, ErrUnknownProfile,
		ErrInvalidRadioConfig, ErrInvalidInterval, ErrUnknownCommand,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err was a refusal due to the lab's state
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyActivated) || errors.Is(err, ErrNotActivated) || errors.Is(err, ErrTransmitting)
}
