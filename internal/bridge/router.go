package bridge

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMalformedPayload is returned for payloads that are not a number in range.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnregisteredDevice is returned when a command needs registry state
	// for a serial that was never registered.
	ErrUnregisteredDevice = errors.New("device not registered")
	// ErrPositionUnknown is returned by set_tilt before any position was reported.
	ErrPositionUnknown = errors.New("position not known yet")
	// ErrUnknownCommand is returned for topics or set payloads the bridge does not handle.
	ErrUnknownCommand = errors.New("unrecognized command")
)

// HandleCommand routes one inbound bus message of the form
// <namespace>/<snr>/<command> to the driver. Failures are logged and returned;
// none of them are fatal.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != b.cfg.Namespace || parts[1] == "" {
		b.logger.Warn("unrecognized command topic", "topic", topic)
		return fmt.Errorf("%w: topic %q", ErrUnknownCommand, topic)
	}
	snr, command := parts[1], parts[2]
	msg := strings.TrimSpace(string(payload))
	b.logger.Debug("received command", "snr", snr, "command", command, "payload", msg)

	var err error
	switch command {
	case "set":
		err = b.handleSet(snr, msg)
	case "set_position":
		err = b.handleSetPosition(snr, msg)
	case "set_tilt":
		err = b.handleSetTilt(snr, msg)
	default:
		b.logger.Warn("unrecognized command", "snr", snr, "command", command)
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	if err == nil {
		b.events.Emit(Event{Type: EventCommand, Data: CommandIssued{Serial: snr, Command: command, Payload: msg}})
	}
	return err
}

// handleSet maps OPEN/CLOSE style payloads to fixed driver positions.
// The *TILT variants move the same way as their plain counterparts.
func (b *Bridge) handleSet(snr, msg string) error {
	zero := 0
	switch msg {
	case "OPEN", "OPENTILT":
		b.logger.Debug("opening", "snr", snr)
		if err := b.driver.SetBlindPosition(snr, 0, &zero); err != nil {
			return b.driverError(snr, "open", err)
		}
		b.publish(b.topics.State(snr), "opening", false)
	case "CLOSE", "CLOSETILT":
		b.logger.Debug("closing", "snr", snr)
		if err := b.driver.SetBlindPosition(snr, 100, &zero); err != nil {
			return b.driverError(snr, "close", err)
		}
		b.publish(b.topics.State(snr), "closing", false)
	case "STOP":
		b.logger.Debug("stopping", "snr", snr)
		if err := b.driver.StopBlind(snr); err != nil {
			return b.driverError(snr, "stop", err)
		}
	case "ON", "OFF":
		b.logger.Info("on/off is not supported by the stick", "snr", snr, "payload", msg)
	default:
		b.logger.Warn("unrecognized set payload", "snr", snr, "payload", msg)
		return fmt.Errorf("%w: set %q", ErrUnknownCommand, msg)
	}
	return nil
}

func (b *Bridge) handleSetPosition(snr, msg string) error {
	position, err := parseValue(msg, 0, 100)
	if err != nil {
		b.logger.Warn("invalid position", "snr", snr, "payload", msg, "err", err)
		return err
	}
	b.logger.Debug("setting position", "snr", snr, "position", position)
	if err := b.driver.SetBlindPosition(snr, position, nil); err != nil {
		return b.driverError(snr, "set position", err)
	}
	return nil
}

// handleSetTilt keeps the last reported position and changes only the angle.
func (b *Bridge) handleSetTilt(snr, msg string) error {
	tilt, err := parseValue(msg, -100, 100)
	if err != nil {
		b.logger.Warn("invalid tilt", "snr", snr, "payload", msg, "err", err)
		return err
	}
	rec, ok := b.reg.Get(snr)
	if !ok || rec.Ignored {
		b.logger.Warn("set_tilt for unregistered device", "snr", snr)
		return fmt.Errorf("%w: %s", ErrUnregisteredDevice, snr)
	}
	if rec.Position == nil {
		b.logger.Warn("set_tilt before any position was reported", "snr", snr)
		return fmt.Errorf("%w: %s", ErrPositionUnknown, snr)
	}
	b.logger.Debug("setting tilt", "snr", snr, "tilt", tilt, "position", *rec.Position)
	if err := b.driver.SetBlindPosition(snr, *rec.Position, &tilt); err != nil {
		return b.driverError(snr, "set tilt", err)
	}
	return nil
}

func (b *Bridge) driverError(snr, op string, err error) error {
	b.logger.Error("driver call failed", "snr", snr, "op", op, "err", err)
	return fmt.Errorf("%s %s: %w", op, snr, err)
}

// parseValue parses an integer payload. Decimal values are truncated.
func parseValue(msg string, lo, hi int) (int, error) {
	f, err := strconv.ParseFloat(msg, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedPayload, msg)
	}
	v := int(f)
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %d outside %d..%d", ErrMalformedPayload, v, lo, hi)
	}
	return v, nil
}
