/*
 * This file is part of the gauge-mate distribution (https://github.com/mlipscombe/gauge-mate).
 * Copyright (c) 2021 Mark Lipscombe.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful, but
 * WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 */

package centertwo

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Controller drives one gauge controller over one Transport. Exchanges are
// serialized: the protocol has no request identifiers, so only one command
// is ever in flight.
type Controller struct {
	transport Transport
	mu        sync.Mutex
	connected bool
	closed    atomic.Bool
}

// New wraps an already open transport.
func New(transport Transport) *Controller {
	return &Controller{
		transport: transport,
		connected: true,
	}
}

// Dial opens the serial port described by cfg and returns a connected
// Controller. Failure to open yields a *ConnectError.
func Dial(cfg SerialConfig) (*Controller, error) {
	transport, err := OpenSerial(cfg)
	if err != nil {
		return nil, err
	}
	return New(transport), nil
}

// IsConnected returns whether the Controller still owns a usable transport.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close releases the transport. A read in progress is aborted and its
// operation fails with an *IOError. It is safe to call more than once.
func (c *Controller) Close() error {
	err := c.closeTransport()
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return err
}

// closeTransport closes the transport exactly once. It does not take c.mu.
func (c *Controller) closeTransport() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.transport.Close()
}

// exchangeLocked performs one command/acknowledge/enquiry round trip and
// returns the reply with terminators stripped. The caller holds c.mu.
func (c *Controller) exchangeLocked(cmd Command, params ...string) (string, error) {
	if !c.connected {
		return "", &IOError{Command: cmd.Mnemonic, Op: "write", Err: ErrNotConnected}
	}

	line := cmd.Encode(params...)
	log.Debugf("send %s", line)
	if _, err := c.transport.Write(append(line, lineTerminator...)); err != nil {
		return "", c.fail(cmd, "write", err)
	}

	raw, err := c.transport.ReadLine()
	if err != nil {
		return "", c.fail(cmd, "read acknowledgement", err)
	}
	if ack := classifyAcknowledgement(raw); ack != Ack {
		log.Debugf("recv %s %s", cmd.Mnemonic, ack)
		return "", &AcknowledgementError{Command: cmd.Mnemonic, Received: ack, Raw: raw}
	}

	if _, err := c.transport.Write([]byte{ENQ}); err != nil {
		return "", c.fail(cmd, "write enquiry", err)
	}
	reply, err := c.transport.ReadLine()
	if err != nil {
		return "", c.fail(cmd, "read reply", err)
	}
	log.Debugf("recv %s %s", cmd.Mnemonic, reply)
	return string(reply), nil
}

// fail marks the controller disconnected after a transport error. The
// transport is closed so a later Close does not touch it twice.
func (c *Controller) fail(cmd Command, op string, err error) error {
	log.Errorf("%s: %s failed, closing connection: %v", cmd.Mnemonic, op, err)
	c.connected = false
	c.closeTransport()
	return &IOError{Command: cmd.Mnemonic, Op: op, Err: err}
}

func classifyAcknowledgement(raw []byte) Acknowledgement {
	trimmed := bytes.TrimRight(raw, " \t\r\n")
	switch {
	case len(trimmed) == 1 && trimmed[0] == ACK:
		return Ack
	case len(trimmed) == 1 && trimmed[0] == NAK:
		return Nak
	default:
		return NoAck
	}
}

// query runs an exchange and splits the reply according to the command
// table.
func (c *Controller) query(cmd Command, params ...string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryLocked(cmd, params...)
}

func (c *Controller) queryLocked(cmd Command, params ...string) ([]string, error) {
	reply, err := c.exchangeLocked(cmd, params...)
	if err != nil {
		return nil, err
	}
	fields, err := cmd.Split(reply)
	if err != nil {
		return nil, &ReplyFormatError{Command: cmd.Mnemonic, Reply: reply, Err: err}
	}
	return fields, nil
}

// Send performs a raw exchange for any mnemonic in the command table and
// returns the reply fields. Parameters are checked against the command's
// domain before anything is written. BAU goes through SetBaudRate so the
// transport follows the controller.
func (c *Controller) Send(mnemonic string, params ...string) ([]string, error) {
	cmd, err := LookupCommand(mnemonic)
	if err != nil {
		return nil, err
	}
	if err := cmd.CheckParams(params...); err != nil {
		return nil, err
	}
	if cmd == CmdBaudRate {
		mode, _ := strconv.Atoi(params[0])
		got, err := c.SetBaudRate(BaudMode(mode))
		if err != nil && !IsUnexpectedValue(err) {
			return nil, err
		}
		return []string{strconv.Itoa(int(got))}, err
	}
	return c.query(cmd, params...)
}

// SetAnalogOutput selects the recorder output curve of a channel.
//
// channel: 0 for channel 1, 1 for channel 2, 2 for channel 3.
// curve: 0 LoG, 1 LoG A, 2 LoG -6, 3 LoG -3, 4 LoG +0, 5 LoG +3, 6 LoGC1,
// 7 LoGC2, 8 LoGC3, 9-22 Lin -10 to Lin +3, 23 IM221, 24 LoGC4, 25 PM411.
func (c *Controller) SetAnalogOutput(channel, curve int) (AnalogOutput, error) {
	cmd := CmdAnalogOutput
	if err := checkRange(cmd, "channel", channel, 0, 2); err != nil {
		return AnalogOutput{}, err
	}
	if err := checkRange(cmd, "curve", curve, 0, 25); err != nil {
		return AnalogOutput{}, err
	}
	fields, err := c.query(cmd, strconv.Itoa(channel), strconv.Itoa(curve))
	if err != nil {
		return AnalogOutput{}, err
	}
	ints, err := parseInts(cmd, fields)
	if err != nil {
		return AnalogOutput{}, err
	}
	out := AnalogOutput{Channel: ints[0], Curve: ints[1]}
	if out.Channel != channel {
		return out, &UnexpectedValueError{Command: cmd.Mnemonic, Field: "channel", Requested: channel, Returned: out.Channel}
	}
	if out.Curve != curve {
		return out, &UnexpectedValueError{Command: cmd.Mnemonic, Field: "curve", Requested: curve, Returned: out.Curve}
	}
	return out, nil
}

// SetBaudRate changes the controller's RS232 rate. When the transport can
// change speed in place it follows the controller to the new rate within
// the same exchange. On failure the requested mode is returned, or the
// device's value when it echoed a different one.
func (c *Controller) SetBaudRate(mode BaudMode) (BaudMode, error) {
	cmd := CmdBaudRate
	if err := checkRange(cmd, "mode", int(mode), int(Baud9600), int(Baud38400)); err != nil {
		return mode, err
	}

	// The host must follow before any other exchange can run.
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, err := c.queryLocked(cmd, strconv.Itoa(int(mode)))
	if err != nil {
		return mode, err
	}
	ints, err := parseInts(cmd, fields)
	if err != nil {
		return mode, err
	}
	if got := BaudMode(ints[0]); got != mode {
		return got, &UnexpectedValueError{Command: cmd.Mnemonic, Field: "mode", Requested: int(mode), Returned: int(got)}
	}
	if setter, ok := c.transport.(baudRateSetter); ok {
		if err := setter.SetBaudRate(mode.Rate()); err != nil {
			return mode, c.fail(cmd, "set baud rate", err)
		}
	}
	return mode, nil
}

// SetContinuousMode starts continuous transmission of measurements.
// The layout of the reply is not documented for this command, so it is
// returned undecoded.
func (c *Controller) SetContinuousMode(period ContinuousPeriod) (string, error) {
	cmd := CmdContinuousMode
	if err := checkRange(cmd, "period", int(period), int(Period100ms), int(Period1min)); err != nil {
		return "", err
	}
	fields, err := c.query(cmd, strconv.Itoa(int(period)))
	if err != nil {
		return "", err
	}
	return fields[0], nil
}

const (
	minCorrectionFactor = 0.10
	maxCorrectionFactor = 9.99
)

// SetCorrectionFactors sets the gas correction factor of each channel.
// Each factor must be between 0.10 and 9.99 and is sent with two decimals.
func (c *Controller) SetCorrectionFactors(cr1, cr2, cr3 float64) ([3]float64, error) {
	cmd := CmdCorrectionFactor
	var result [3]float64
	params := make([]string, 3)
	for i, cr := range []float64{cr1, cr2, cr3} {
		if math.IsNaN(cr) || cr < minCorrectionFactor || cr > maxCorrectionFactor {
			return result, &InvalidParameterError{
				Command:   cmd.Mnemonic,
				Parameter: fmt.Sprintf("cr%d", i+1),
				Value:     cr,
				Reason:    fmt.Sprintf("must be between %.2f and %.2f", minCorrectionFactor, maxCorrectionFactor),
			}
		}
		params[i] = strconv.FormatFloat(cr, 'f', 2, 64)
	}
	fields, err := c.query(cmd, params...)
	if err != nil {
		return result, err
	}
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return result, &ReplyFormatError{Command: cmd.Mnemonic, Reply: strings.Join(fields, cmd.Separator), Err: err}
		}
		result[i] = v
	}
	return result, nil
}

// SetDisplayDigits sets the number of digits shown on the display, 2 or 3.
func (c *Controller) SetDisplayDigits(digits int) (int, error) {
	cmd := CmdDisplayDigits
	if err := checkRange(cmd, "digits", digits, 2, 3); err != nil {
		return 0, err
	}
	return c.setInt(cmd, "digits", digits)
}

// ErrorStatus reads the controller error word.
func (c *Controller) ErrorStatus() (ErrorStatus, error) {
	cmd := CmdErrorStatus
	fields, err := c.query(cmd)
	if err != nil {
		return ErrorStatus{}, err
	}
	status, err := ParseErrorStatus(strings.TrimSpace(fields[0]))
	if err != nil {
		return ErrorStatus{}, &ReplyFormatError{Command: cmd.Mnemonic, Reply: fields[0], Err: err}
	}
	return status, nil
}

// ProgramNumber returns the firmware version string.
func (c *Controller) ProgramNumber() (string, error) {
	fields, err := c.query(CmdProgramNumber)
	if err != nil {
		return "", err
	}
	return fields[0], nil
}

// ChannelPressure reads the pressure of one channel, numbered 1 to 3.
func (c *Controller) ChannelPressure(channel int) (Reading, error) {
	if channel < 1 || channel > len(channelPressureByChan) {
		return Reading{}, &InvalidParameterError{
			Command:   "PR#",
			Parameter: "channel",
			Value:     channel,
			Reason:    "must be between 1 and 3",
		}
	}
	cmd := channelPressureByChan[channel-1]
	fields, err := c.query(cmd)
	if err != nil {
		return Reading{}, err
	}
	return parseReading(cmd, channel, fields[0], fields[1])
}

// SetPiraniRangeExtension turns the Pirani range extension of each
// transmitter on or off.
func (c *Controller) SetPiraniRangeExtension(re1, re2, re3 bool) ([3]bool, error) {
	cmd := CmdPiraniRangeExt
	requested := [3]bool{re1, re2, re3}
	var result [3]bool
	params := make([]string, 3)
	for i, re := range requested {
		params[i] = formatBool(re)
	}
	fields, err := c.query(cmd, params...)
	if err != nil {
		return result, err
	}
	ints, err := parseInts(cmd, fields)
	if err != nil {
		return result, err
	}
	for i, v := range ints {
		if v != 0 && v != 1 {
			return result, &ReplyFormatError{
				Command: cmd.Mnemonic,
				Reply:   strings.Join(fields, cmd.Separator),
				Err:     fmt.Errorf("field %d: %d is not a boolean", i+1, v),
			}
		}
		result[i] = v == 1
	}
	for i := range requested {
		if result[i] != requested[i] {
			return result, &UnexpectedValueError{
				Command:   cmd.Mnemonic,
				Field:     fmt.Sprintf("re%d", i+1),
				Requested: requested[i],
				Returned:  result[i],
			}
		}
	}
	return result, nil
}

// Pressures reads all three channels in one exchange.
func (c *Controller) Pressures() ([3]Reading, error) {
	cmd := CmdPressures
	var readings [3]Reading
	fields, err := c.query(cmd)
	if err != nil {
		return readings, err
	}
	for i := range readings {
		reading, err := parseReading(cmd, i+1, fields[2*i], fields[2*i+1])
		if err != nil {
			return readings, err
		}
		readings[i] = reading
	}
	return readings, nil
}

// Reset resets the controller and returns its queued errors. rst must be 1.
func (c *Controller) Reset(rst int) ([]QueuedError, error) {
	cmd := CmdReset
	if rst != 1 {
		return nil, &InvalidParameterError{Command: cmd.Mnemonic, Parameter: "rst", Value: rst, Reason: "must be 1"}
	}
	fields, err := c.query(cmd, strconv.Itoa(rst))
	if err != nil {
		return nil, err
	}
	ints, err := parseInts(cmd, fields)
	if err != nil {
		return nil, err
	}
	queued := make([]QueuedError, 0, len(ints))
	for _, code := range ints {
		q, err := ParseQueuedError(code)
		if err != nil {
			return nil, &ReplyFormatError{Command: cmd.Mnemonic, Reply: strings.Join(fields, cmd.Separator), Err: err}
		}
		queued = append(queued, q)
	}
	return queued, nil
}

// TransmitterIDs returns the identification of each connected transmitter.
func (c *Controller) TransmitterIDs() ([]string, error) {
	fields, err := c.query(CmdTransmitterID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i] = strings.TrimSpace(f)
	}
	return ids, nil
}

// setInt sends a single integer parameter and checks the echoed value.
func (c *Controller) setInt(cmd Command, name string, value int) (int, error) {
	fields, err := c.query(cmd, strconv.Itoa(value))
	if err != nil {
		return 0, err
	}
	ints, err := parseInts(cmd, fields)
	if err != nil {
		return 0, err
	}
	if ints[0] != value {
		return ints[0], &UnexpectedValueError{Command: cmd.Mnemonic, Field: name, Requested: value, Returned: ints[0]}
	}
	return ints[0], nil
}

func checkRange(cmd Command, name string, value, lo, hi int) error {
	if value < lo || value > hi {
		return &InvalidParameterError{
			Command:   cmd.Mnemonic,
			Parameter: name,
			Value:     value,
			Reason:    fmt.Sprintf("must be between %d and %d", lo, hi),
		}
	}
	return nil
}

func parseInts(cmd Command, fields []string) ([]int, error) {
	ints := make([]int, len(fields))
	for i, field := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, &ReplyFormatError{Command: cmd.Mnemonic, Reply: strings.Join(fields, cmd.Separator), Err: err}
		}
		ints[i] = v
	}
	return ints, nil
}

func parseReading(cmd Command, channel int, statusField, valueField string) (Reading, error) {
	reply := statusField + cmd.Separator + valueField
	code, err := strconv.Atoi(strings.TrimSpace(statusField))
	if err != nil {
		return Reading{}, &ReplyFormatError{Command: cmd.Mnemonic, Reply: reply, Err: err}
	}
	status, err := ParseSensorStatus(code)
	if err != nil {
		return Reading{}, &ReplyFormatError{Command: cmd.Mnemonic, Reply: reply, Err: err}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueField), 64)
	if err != nil {
		return Reading{}, &ReplyFormatError{Command: cmd.Mnemonic, Reply: reply, Err: err}
	}
	return Reading{Channel: channel, Status: status, Value: value}, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
