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
	"errors"
	"fmt"
	"strings"
)

// Control bytes used by the gauge controller.
const (
	ACK byte = 0x06
	NAK byte = 0x15
	ENQ byte = 0x05
	CR  byte = 0x0d
	LF  byte = 0x0a
)

var lineTerminator = []byte{CR, LF}

// Acknowledgement is the outcome of the acknowledgement read that follows
// every transmitted command.
type Acknowledgement int

const (
	NoAck Acknowledgement = iota
	Ack
	Nak
)

func (a Acknowledgement) String() string {
	switch a {
	case Ack:
		return "ACK"
	case Nak:
		return "NAK"
	default:
		return "no acknowledgement"
	}
}

// ErrUnknownCode is returned by the Parse functions for codes outside an
// enumeration.
var ErrUnknownCode = errors.New("unknown code")

// SensorStatus is the measurement status reported with each pressure reading.
type SensorStatus int

const (
	SensorOk SensorStatus = iota
	SensorUnderRange
	SensorOverRange
	SensorTransmitterError
	SensorTransmitterOff
	SensorNoTransmitter
	SensorIdentificationError
	SensorITRError
)

var sensorStatusNames = [...]string{
	"Measurement data ok",
	"Measurement under range",
	"Measurement over range",
	"Transmitter error",
	"Transmitter switched off",
	"No transmitter",
	"Identification error",
	"ITR error",
}

func ParseSensorStatus(code int) (SensorStatus, error) {
	if code < 0 || code >= len(sensorStatusNames) {
		return 0, fmt.Errorf("%w: sensor status %d", ErrUnknownCode, code)
	}
	return SensorStatus(code), nil
}

func (s SensorStatus) String() string {
	if s < 0 || int(s) >= len(sensorStatusNames) {
		return fmt.Sprintf("SensorStatus(%d)", int(s))
	}
	return sensorStatusNames[s]
}

// Valid reports whether the reading carrying this status holds a usable
// pressure value.
func (s SensorStatus) Valid() bool {
	return s == SensorOk || s == SensorUnderRange || s == SensorOverRange
}

// DeviceErrorFlags is the 4-bit error word returned by ERR. Character i of
// the wire string maps to bit i.
type DeviceErrorFlags uint8

const (
	FlagDeviceError DeviceErrorFlags = 1 << iota
	FlagHardwareError
	FlagInvalidParameter
	FlagSyntaxError
)

const NoErrorDescription = "No error"

var deviceErrorNames = map[DeviceErrorFlags]string{
	FlagDeviceError:      "Device error",
	FlagHardwareError:    "Hardware error (FAIL illum.)",
	FlagInvalidParameter: "Invalid parameter",
	FlagSyntaxError:      "Syntax error",
}

var deviceErrorOrder = []DeviceErrorFlags{
	FlagDeviceError,
	FlagHardwareError,
	FlagInvalidParameter,
	FlagSyntaxError,
}

func (f DeviceErrorFlags) Has(flag DeviceErrorFlags) bool {
	return f&flag != 0
}

// List returns the individual flags that are set, lowest bit first.
func (f DeviceErrorFlags) List() []DeviceErrorFlags {
	var flags []DeviceErrorFlags
	for _, flag := range deviceErrorOrder {
		if f.Has(flag) {
			flags = append(flags, flag)
		}
	}
	return flags
}

func (f DeviceErrorFlags) String() string {
	if f == 0 {
		return NoErrorDescription
	}
	var names []string
	for _, flag := range f.List() {
		names = append(names, deviceErrorNames[flag])
	}
	return strings.Join(names, ", ")
}

// ErrorStatus is the decoded reply to ERR.
type ErrorStatus struct {
	Raw          string           `json:"raw"`
	Flags        DeviceErrorFlags `json:"flags"`
	Descriptions []string         `json:"descriptions"`
}

// ParseErrorStatus decodes the 4 character bit string returned by ERR. An
// all-zero word yields an empty flag set and a single "No error"
// description.
func ParseErrorStatus(raw string) (ErrorStatus, error) {
	if len(raw) != len(deviceErrorOrder) {
		return ErrorStatus{}, fmt.Errorf("error word %q: want %d characters", raw, len(deviceErrorOrder))
	}
	status := ErrorStatus{Raw: raw, Descriptions: []string{}}
	for i, c := range raw {
		switch c {
		case '0':
		case '1':
			status.Flags |= deviceErrorOrder[i]
			status.Descriptions = append(status.Descriptions, deviceErrorNames[deviceErrorOrder[i]])
		default:
			return ErrorStatus{}, fmt.Errorf("error word %q: invalid bit %q at position %d", raw, c, i)
		}
	}
	if status.Flags == 0 {
		status.Descriptions = append(status.Descriptions, NoErrorDescription)
	}
	return status, nil
}

// QueuedError is an entry of the error queue reported by RES.
type QueuedError int

const (
	QueuedNoError QueuedError = iota
	QueuedWatchdog
	QueuedTaskFail
	QueuedFlashError
	QueuedRAMError
	QueuedEEPROMError
	QueuedDisplayError
	QueuedADConverterError
	QueuedUARTError
	QueuedTransmitter1Error
	QueuedTransmitter1IDError
	QueuedTransmitter2Error
	QueuedTransmitter2IDError
	QueuedTransmitter3Error
	QueuedTransmitter3IDError
)

var queuedErrorNames = [...]string{
	"No error",
	"Watchdog has responded",
	"Task fail error",
	"Flash error",
	"RAM error",
	"EEPROM error",
	"Display error",
	"A/D converter error",
	"UART error",
	"Transmitter 1 general error",
	"Transmitter 1 ID error",
	"Transmitter 2 general error",
	"Transmitter 2 ID error",
	"Transmitter 3 general error",
	"Transmitter 3 ID error",
}

func ParseQueuedError(code int) (QueuedError, error) {
	if code < 0 || code >= len(queuedErrorNames) {
		return 0, fmt.Errorf("%w: queued error %d", ErrUnknownCode, code)
	}
	return QueuedError(code), nil
}

func (q QueuedError) String() string {
	if q < 0 || int(q) >= len(queuedErrorNames) {
		return fmt.Sprintf("QueuedError(%d)", int(q))
	}
	return queuedErrorNames[q]
}

// Reading is one channel's pressure measurement.
type Reading struct {
	Channel int          `json:"channel"`
	Status  SensorStatus `json:"status"`
	Value   float64      `json:"value"`
}

// AnalogOutput is the recorder output curve of one channel.
type AnalogOutput struct {
	Channel int `json:"channel"`
	Curve   int `json:"curve"`
}

// BaudMode selects the RS232 transfer rate.
type BaudMode int

const (
	Baud9600 BaudMode = iota
	Baud19200
	Baud38400
)

var baudRates = [...]int{9600, 19200, 38400}

// Rate returns the line speed in bits per second, or 0 for an unknown mode.
func (b BaudMode) Rate() int {
	if b < 0 || int(b) >= len(baudRates) {
		return 0
	}
	return baudRates[b]
}

// ContinuousPeriod selects the transmission period for continuous mode.
type ContinuousPeriod int

const (
	Period100ms ContinuousPeriod = iota
	Period1s
	Period1min
)
