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
)

// ErrNotConnected is wrapped by IOError when an operation is attempted on a
// closed or failed Controller.
var ErrNotConnected = errors.New("not connected")

// ConnectError indicates the serial port could not be opened or configured.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to open %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// InvalidParameterError indicates a caller-supplied argument outside the
// command's documented domain. Nothing was written to the device.
type InvalidParameterError struct {
	Command   string
	Parameter string
	Value     interface{}
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: invalid %s %v: %s", e.Command, e.Parameter, e.Value, e.Reason)
}

// AcknowledgementError indicates the device did not acknowledge a command.
// No enquiry was sent.
type AcknowledgementError struct {
	Command  string
	Received Acknowledgement
	Raw      []byte
}

func (e *AcknowledgementError) Error() string {
	if e.Received == Nak {
		return fmt.Sprintf("%s: command rejected (NAK)", e.Command)
	}
	if len(e.Raw) == 0 {
		return fmt.Sprintf("%s: no acknowledgement received", e.Command)
	}
	return fmt.Sprintf("%s: unexpected acknowledgement % X", e.Command, e.Raw)
}

// UnexpectedValueError indicates the device returned a value different from
// the one requested. The exchange itself succeeded.
type UnexpectedValueError struct {
	Command   string
	Field     string
	Requested interface{}
	Returned  interface{}
}

func (e *UnexpectedValueError) Error() string {
	return fmt.Sprintf("%s: device returned %s %v, requested %v", e.Command, e.Field, e.Returned, e.Requested)
}

// UnsupportedCommandError indicates a mnemonic that is not in the command
// table.
type UnsupportedCommandError struct {
	Mnemonic string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("unsupported command %q", e.Mnemonic)
}

// ReplyFormatError indicates a reply that could not be decoded for its
// command.
type ReplyFormatError struct {
	Command string
	Reply   string
	Err     error
}

func (e *ReplyFormatError) Error() string {
	return fmt.Sprintf("%s: malformed reply %q: %v", e.Command, e.Reply, e.Err)
}

func (e *ReplyFormatError) Unwrap() error { return e.Err }

// IOError wraps a transport failure during an exchange.
type IOError struct {
	Command string
	Op      string
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Command, e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsAcknowledgementError returns true if err is or wraps an AcknowledgementError.
func IsAcknowledgementError(err error) bool {
	var target *AcknowledgementError
	return errors.As(err, &target)
}

// IsUnexpectedValue returns true if err is or wraps an UnexpectedValueError.
func IsUnexpectedValue(err error) bool {
	var target *UnexpectedValueError
	return errors.As(err, &target)
}

// IsIOError returns true if err is or wraps an IOError.
func IsIOError(err error) bool {
	var target *IOError
	return errors.As(err, &target)
}
