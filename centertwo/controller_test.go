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
	"sync"
	"testing"
	"time"

	cmp "github.com/google/go-cmp/cmp"
)

func TestChannelPressure(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("PR2", "0,1.23e-3")
	ctrl := New(gauge)

	reading, err := ctrl.ChannelPressure(2)
	if err != nil {
		t.Fatalf("ChannelPressure() error = %v", err)
	}

	want := Reading{Channel: 2, Status: SensorOk, Value: 1.23e-3}
	if diff := cmp.Diff(want, reading); diff != "" {
		t.Errorf("ChannelPressure() mismatch (-want +got):\n%s", diff)
	}

	wantWrites := [][]byte{[]byte("PR2\r\n"), {ENQ}}
	if diff := cmp.Diff(wantWrites, gauge.writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestAcknowledgementShortCircuits(t *testing.T) {
	tests := []struct {
		name     string
		ack      []byte
		received Acknowledgement
	}{
		{"negative acknowledgement", []byte{NAK}, Nak},
		{"unexpected bytes", []byte("?"), NoAck},
		{"ack followed by garbage", []byte{ACK, 'x'}, NoAck},
		{"timeout", nil, NoAck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gauge := newMockGauge()
			gauge.ack = tt.ack
			ctrl := New(gauge)

			_, err := ctrl.ProgramNumber()

			var ackErr *AcknowledgementError
			if !errors.As(err, &ackErr) {
				t.Fatalf("expected AcknowledgementError, got %v", err)
			}
			if ackErr.Received != tt.received {
				t.Errorf("Received = %v, want %v", ackErr.Received, tt.received)
			}
			if gauge.enquiries() != 0 {
				t.Errorf("expected no enquiry, got %d", gauge.enquiries())
			}
			if len(gauge.writes) != 1 {
				t.Errorf("expected only the command to be written, got %d writes", len(gauge.writes))
			}
			if !ctrl.IsConnected() {
				t.Error("expected controller to stay connected")
			}
		})
	}
}

func TestAcknowledgementToleratesTrailingWhitespace(t *testing.T) {
	gauge := newMockGauge()
	gauge.ack = []byte{ACK, ' ', '\r'}
	gauge.SetReply("PNR", "BG551-000")
	ctrl := New(gauge)

	version, err := ctrl.ProgramNumber()
	if err != nil {
		t.Fatalf("ProgramNumber() error = %v", err)
	}
	if version != "BG551-000" {
		t.Errorf("ProgramNumber() = %q, want %q", version, "BG551-000")
	}
}

func TestInvalidParametersPerformNoIO(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Controller) error
	}{
		{"reset zero", func(c *Controller) error { _, err := c.Reset(0); return err }},
		{"reset two", func(c *Controller) error { _, err := c.Reset(2); return err }},
		{"correction below minimum", func(c *Controller) error {
			_, err := c.SetCorrectionFactors(0.05, 1, 1)
			return err
		}},
		{"correction above maximum", func(c *Controller) error {
			_, err := c.SetCorrectionFactors(1, 1, 10)
			return err
		}},
		{"analog output channel", func(c *Controller) error { _, err := c.SetAnalogOutput(3, 0); return err }},
		{"analog output curve", func(c *Controller) error { _, err := c.SetAnalogOutput(0, 26); return err }},
		{"baud mode", func(c *Controller) error { _, err := c.SetBaudRate(3); return err }},
		{"display digits", func(c *Controller) error { _, err := c.SetDisplayDigits(4); return err }},
		{"continuous period", func(c *Controller) error { _, err := c.SetContinuousMode(-1); return err }},
		{"pressure channel zero", func(c *Controller) error { _, err := c.ChannelPressure(0); return err }},
		{"pressure channel four", func(c *Controller) error { _, err := c.ChannelPressure(4); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gauge := newMockGauge()
			ctrl := New(gauge)

			err := tt.call(ctrl)

			var paramErr *InvalidParameterError
			if !errors.As(err, &paramErr) {
				t.Fatalf("expected InvalidParameterError, got %v", err)
			}
			if len(gauge.writes) != 0 {
				t.Errorf("expected no writes, got %d", len(gauge.writes))
			}
		})
	}
}

func TestSetCommandsRoundTrip(t *testing.T) {
	gauge := newMockGauge()
	ctrl := New(gauge)

	out, err := ctrl.SetAnalogOutput(1, 23)
	if err != nil {
		t.Fatalf("SetAnalogOutput() error = %v", err)
	}
	if out != (AnalogOutput{Channel: 1, Curve: 23}) {
		t.Errorf("SetAnalogOutput() = %+v", out)
	}

	mode, err := ctrl.SetBaudRate(Baud19200)
	if err != nil {
		t.Fatalf("SetBaudRate() error = %v", err)
	}
	if mode != Baud19200 {
		t.Errorf("SetBaudRate() = %v, want %v", mode, Baud19200)
	}
	if gauge.baudRate != 19200 {
		t.Errorf("transport baud rate = %d, want 19200", gauge.baudRate)
	}

	digits, err := ctrl.SetDisplayDigits(3)
	if err != nil {
		t.Fatalf("SetDisplayDigits() error = %v", err)
	}
	if digits != 3 {
		t.Errorf("SetDisplayDigits() = %d, want 3", digits)
	}

	ext, err := ctrl.SetPiraniRangeExtension(true, false, true)
	if err != nil {
		t.Fatalf("SetPiraniRangeExtension() error = %v", err)
	}
	if ext != [3]bool{true, false, true} {
		t.Errorf("SetPiraniRangeExtension() = %v", ext)
	}

	wantLines := []string{"AOM,1,23\r\n", "BAU,1\r\n", "DCD,3\r\n", "PRE,1,0,1\r\n"}
	var gotLines []string
	for _, w := range gauge.writes {
		if len(w) == 1 && w[0] == ENQ {
			continue
		}
		gotLines = append(gotLines, string(w))
	}
	if diff := cmp.Diff(wantLines, gotLines); diff != "" {
		t.Errorf("command lines mismatch (-want +got):\n%s", diff)
	}
}

func TestSetCommandEchoMismatch(t *testing.T) {
	tests := []struct {
		name  string
		reply map[string]string
		call  func(c *Controller) (interface{}, error)
		want  interface{}
		field string
	}{
		{
			name:  "display digits",
			reply: map[string]string{"DCD": "2"},
			call:  func(c *Controller) (interface{}, error) { return c.SetDisplayDigits(3) },
			want:  2,
			field: "digits",
		},
		{
			name:  "baud rate",
			reply: map[string]string{"BAU": "0"},
			call:  func(c *Controller) (interface{}, error) { return c.SetBaudRate(Baud38400) },
			want:  Baud9600,
			field: "mode",
		},
		{
			name:  "analog output curve",
			reply: map[string]string{"AOM": "0,4"},
			call:  func(c *Controller) (interface{}, error) { return c.SetAnalogOutput(0, 5) },
			want:  AnalogOutput{Channel: 0, Curve: 4},
			field: "curve",
		},
		{
			name:  "pirani range extension",
			reply: map[string]string{"PRE": "0,0,0"},
			call:  func(c *Controller) (interface{}, error) { return c.SetPiraniRangeExtension(false, true, false) },
			want:  [3]bool{false, false, false},
			field: "re2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gauge := newMockGauge()
			for k, v := range tt.reply {
				gauge.SetReply(k, v)
			}
			ctrl := New(gauge)

			got, err := tt.call(ctrl)

			var valueErr *UnexpectedValueError
			if !errors.As(err, &valueErr) {
				t.Fatalf("expected UnexpectedValueError, got %v", err)
			}
			if valueErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", valueErr.Field, tt.field)
			}
			if !cmp.Equal(got, tt.want) {
				t.Errorf("returned value = %v, want %v", got, tt.want)
			}
			if !ctrl.IsConnected() {
				t.Error("expected controller to stay connected")
			}
		})
	}
}

func TestBaudRateMismatchKeepsTransportRate(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("BAU", "0")
	ctrl := New(gauge)

	if _, err := ctrl.SetBaudRate(Baud38400); err == nil {
		t.Fatal("expected error")
	}
	if gauge.baudRate != 0 {
		t.Errorf("transport rate changed to %d", gauge.baudRate)
	}

	mode, err := ctrl.SetBaudRate(BaudMode(3))
	var paramErr *InvalidParameterError
	if !errors.As(err, &paramErr) {
		t.Fatalf("expected InvalidParameterError, got %v", err)
	}
	if mode != BaudMode(3) {
		t.Errorf("returned mode = %v, want 3", mode)
	}
}

func TestSetCorrectionFactors(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("COR", "1.00,2.50,9.99")
	ctrl := New(gauge)

	got, err := ctrl.SetCorrectionFactors(1, 2.5, 9.99)
	if err != nil {
		t.Fatalf("SetCorrectionFactors() error = %v", err)
	}
	if got != [3]float64{1, 2.5, 9.99} {
		t.Errorf("SetCorrectionFactors() = %v", got)
	}
	if string(gauge.writes[0]) != "COR,1.00,2.50,9.99\r\n" {
		t.Errorf("command line = %q", gauge.writes[0])
	}
}

func TestSetCorrectionFactorsDoesNotEnforceEcho(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("COR", "1.10,1.00,1.00")
	ctrl := New(gauge)

	got, err := ctrl.SetCorrectionFactors(1, 1, 1)
	if err != nil {
		t.Fatalf("SetCorrectionFactors() error = %v", err)
	}
	if got[0] != 1.1 {
		t.Errorf("cr1 = %v, want 1.1", got[0])
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  ErrorStatus
	}{
		{
			name:  "no error",
			reply: "0000",
			want:  ErrorStatus{Raw: "0000", Flags: 0, Descriptions: []string{"No error"}},
		},
		{
			name:  "device and syntax error",
			reply: "1001",
			want: ErrorStatus{
				Raw:          "1001",
				Flags:        FlagDeviceError | FlagSyntaxError,
				Descriptions: []string{"Device error", "Syntax error"},
			},
		},
		{
			name:  "hardware error",
			reply: "0100",
			want: ErrorStatus{
				Raw:          "0100",
				Flags:        FlagHardwareError,
				Descriptions: []string{"Hardware error (FAIL illum.)"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gauge := newMockGauge()
			gauge.SetReply("ERR", tt.reply)
			ctrl := New(gauge)

			got, err := ctrl.ErrorStatus()
			if err != nil {
				t.Fatalf("ErrorStatus() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ErrorStatus() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPressures(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("PRX", "0,8.3400E-03,5,2.0000E-02,1,1.0000E-04")
	ctrl := New(gauge)

	got, err := ctrl.Pressures()
	if err != nil {
		t.Fatalf("Pressures() error = %v", err)
	}

	want := [3]Reading{
		{Channel: 1, Status: SensorOk, Value: 8.34e-3},
		{Channel: 2, Status: SensorNoTransmitter, Value: 2e-2},
		{Channel: 3, Status: SensorUnderRange, Value: 1e-4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Pressures() mismatch (-want +got):\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []QueuedError
	}{
		{"no error", "0", []QueuedError{QueuedNoError}},
		{"queued errors", "1,9,14", []QueuedError{QueuedWatchdog, QueuedTransmitter1Error, QueuedTransmitter3IDError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gauge := newMockGauge()
			gauge.SetReply("RES", tt.reply)
			ctrl := New(gauge)

			got, err := ctrl.Reset(1)
			if err != nil {
				t.Fatalf("Reset() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Reset() mismatch (-want +got):\n%s", diff)
			}
			if string(gauge.writes[0]) != "RES,1\r\n" {
				t.Errorf("command line = %q", gauge.writes[0])
			}
		})
	}
}

func TestTransmitterIDsAndProgramNumber(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("TID", "TTR91,noSen,ITR90")
	gauge.SetReply("PNR", "BG551, rev 2")
	ctrl := New(gauge)

	ids, err := ctrl.TransmitterIDs()
	if err != nil {
		t.Fatalf("TransmitterIDs() error = %v", err)
	}
	if diff := cmp.Diff([]string{"TTR91", "noSen", "ITR90"}, ids); diff != "" {
		t.Errorf("TransmitterIDs() mismatch (-want +got):\n%s", diff)
	}

	version, err := ctrl.ProgramNumber()
	if err != nil {
		t.Fatalf("ProgramNumber() error = %v", err)
	}
	if version != "BG551, rev 2" {
		t.Errorf("ProgramNumber() = %q", version)
	}
}

func TestContinuousModeReturnsRawReply(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("COM", "0, 1.0000E-03")
	ctrl := New(gauge)

	reply, err := ctrl.SetContinuousMode(Period1s)
	if err != nil {
		t.Fatalf("SetContinuousMode() error = %v", err)
	}
	if reply != "0, 1.0000E-03" {
		t.Errorf("SetContinuousMode() = %q", reply)
	}
	if string(gauge.writes[0]) != "COM,1\r\n" {
		t.Errorf("command line = %q", gauge.writes[0])
	}
}

func TestMalformedReplies(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		reply    string
		call     func(c *Controller) error
	}{
		{"pressure field count", "PR1", "0", func(c *Controller) error { _, err := c.ChannelPressure(1); return err }},
		{"pressure unknown status", "PR1", "8,1.0E-03", func(c *Controller) error { _, err := c.ChannelPressure(1); return err }},
		{"pressure value", "PR1", "0,abc", func(c *Controller) error { _, err := c.ChannelPressure(1); return err }},
		{"pressures field count", "PRX", "0,1.0,0,1.0", func(c *Controller) error { _, err := c.Pressures(); return err }},
		{"error word length", "ERR", "000", func(c *Controller) error { _, err := c.ErrorStatus(); return err }},
		{"error word bit", "ERR", "10x1", func(c *Controller) error { _, err := c.ErrorStatus(); return err }},
		{"reset unknown code", "RES", "0,15", func(c *Controller) error { _, err := c.Reset(1); return err }},
		{"reset empty", "RES", "", func(c *Controller) error { _, err := c.Reset(1); return err }},
		{"program number timeout", "PNR", "", func(c *Controller) error { _, err := c.ProgramNumber(); return err }},
		{"continuous mode timeout", "COM", "", func(c *Controller) error { _, err := c.SetContinuousMode(Period1s); return err }},
		{"pirani not boolean", "PRE", "0,2,0", func(c *Controller) error {
			_, err := c.SetPiraniRangeExtension(false, false, false)
			return err
		}},
		{"display digits text", "DCD", "two", func(c *Controller) error { _, err := c.SetDisplayDigits(2); return err }},
		{"wrong separator", "PR2", "0;1.0E-03", func(c *Controller) error { _, err := c.ChannelPressure(2); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gauge := newMockGauge()
			gauge.SetReply(tt.mnemonic, tt.reply)
			ctrl := New(gauge)

			err := tt.call(ctrl)

			var formatErr *ReplyFormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("expected ReplyFormatError, got %v", err)
			}
			if formatErr.Command != tt.mnemonic {
				t.Errorf("Command = %q, want %q", formatErr.Command, tt.mnemonic)
			}
		})
	}
}

func TestUnknownSensorStatusWrapsErrUnknownCode(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("PR3", "9,1.0E-03")
	ctrl := New(gauge)

	_, err := ctrl.ChannelPressure(3)
	if !errors.Is(err, ErrUnknownCode) {
		t.Errorf("expected ErrUnknownCode, got %v", err)
	}
}

func TestSend(t *testing.T) {
	gauge := newMockGauge()
	gauge.SetReply("PR1", "0,1.0E+03")
	ctrl := New(gauge)

	fields, err := ctrl.Send("pr1")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if diff := cmp.Diff([]string{"0", "1.0E+03"}, fields); diff != "" {
		t.Errorf("Send() mismatch (-want +got):\n%s", diff)
	}
}

func TestSendUnsupportedCommand(t *testing.T) {
	gauge := newMockGauge()
	ctrl := New(gauge)

	_, err := ctrl.Send("SAV", "1")

	var unsupported *UnsupportedCommandError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedCommandError, got %v", err)
	}
	if unsupported.Mnemonic != "SAV" {
		t.Errorf("Mnemonic = %q, want SAV", unsupported.Mnemonic)
	}
	if len(gauge.writes) != 0 {
		t.Errorf("expected no writes, got %d", len(gauge.writes))
	}
}

func TestIOErrorDisconnects(t *testing.T) {
	gauge := newMockGauge()
	gauge.writeErr = errors.New("device unplugged")
	ctrl := New(gauge)

	_, err := ctrl.ChannelPressure(1)
	if !IsIOError(err) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if ctrl.IsConnected() {
		t.Error("expected controller to be disconnected")
	}
	if gauge.closed != 1 {
		t.Errorf("transport closed %d times, want 1", gauge.closed)
	}

	gauge.writeErr = nil
	_, err = ctrl.ChannelPressure(1)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if len(gauge.writes) != 0 {
		t.Errorf("expected no writes after disconnect, got %d", len(gauge.writes))
	}
}

func TestReadErrorDisconnects(t *testing.T) {
	gauge := newMockGauge()
	gauge.readErr = errors.New("read failed")
	ctrl := New(gauge)

	_, err := ctrl.ErrorStatus()

	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if ioErr.Op != "read acknowledgement" {
		t.Errorf("Op = %q", ioErr.Op)
	}
	if ctrl.IsConnected() {
		t.Error("expected controller to be disconnected")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	gauge := newMockGauge()
	ctrl := New(gauge)

	if err := ctrl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := ctrl.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if gauge.closed != 1 {
		t.Errorf("transport closed %d times, want 1", gauge.closed)
	}
	if ctrl.IsConnected() {
		t.Error("expected controller to be disconnected")
	}
}

func TestSendRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		params   []string
	}{
		{"reset zero", "RES", []string{"0"}},
		{"reset without parameter", "RES", nil},
		{"baud mode out of range", "BAU", []string{"7"}},
		{"correction below minimum", "COR", []string{"0.05", "1.00", "1.00"}},
		{"correction not a number", "COR", []string{"NaN", "1.00", "1.00"}},
		{"injected command", "PNR", []string{"x\r\nBAU,2"}},
		{"line break inside parameter", "DCD", []string{"2\r\nBAU,2"}},
		{"parameter on get command", "PR1", []string{"1"}},
		{"separator inside parameter", "AOM", []string{"1,2", "3"}},
		{"display digits text", "DCD", []string{"abc"}},
		{"range extension not boolean", "PRE", []string{"1", "2", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gauge := newMockGauge()
			ctrl := New(gauge)

			_, err := ctrl.Send(tt.mnemonic, tt.params...)

			var paramErr *InvalidParameterError
			if !errors.As(err, &paramErr) {
				t.Fatalf("expected InvalidParameterError, got %v", err)
			}
			if paramErr.Command != tt.mnemonic {
				t.Errorf("Command = %q, want %q", paramErr.Command, tt.mnemonic)
			}
			if len(gauge.writes) != 0 {
				t.Errorf("expected no writes, got %q", gauge.writes)
			}
		})
	}
}

func TestSendValidParameters(t *testing.T) {
	gauge := newMockGauge()
	ctrl := New(gauge)

	fields, err := ctrl.Send("COR", "0.50", "1.00", "9.99")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if diff := cmp.Diff([]string{"0.50", "1.00", "9.99"}, fields); diff != "" {
		t.Errorf("Send() mismatch (-want +got):\n%s", diff)
	}
	if string(gauge.writes[0]) != "COR,0.50,1.00,9.99\r\n" {
		t.Errorf("command line = %q", gauge.writes[0])
	}
}

func TestSendBaudRateFollowsTransport(t *testing.T) {
	gauge := newMockGauge()
	ctrl := New(gauge)

	fields, err := ctrl.Send("BAU", "2")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if diff := cmp.Diff([]string{"2"}, fields); diff != "" {
		t.Errorf("Send() mismatch (-want +got):\n%s", diff)
	}
	if gauge.baudRate != 38400 {
		t.Errorf("transport rate = %d, want 38400", gauge.baudRate)
	}
}

func TestBaudRateSwitchHoldsExchangeLock(t *testing.T) {
	gauge := newMockGauge()
	ctrl := New(gauge)

	locked := false
	gauge.onSetBaudRate = func() {
		if ctrl.mu.TryLock() {
			ctrl.mu.Unlock()
			return
		}
		locked = true
	}

	if _, err := ctrl.SetBaudRate(Baud19200); err != nil {
		t.Fatalf("SetBaudRate() error = %v", err)
	}
	if !locked {
		t.Error("transport was re-rated outside the exchange lock")
	}
	if gauge.baudRate != 19200 {
		t.Errorf("transport rate = %d, want 19200", gauge.baudRate)
	}
}

func TestBaudRateSwitchFailureDisconnects(t *testing.T) {
	gauge := newMockGauge()
	gauge.baudErr = errors.New("unsupported speed")
	ctrl := New(gauge)

	mode, err := ctrl.SetBaudRate(Baud38400)

	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if ioErr.Op != "set baud rate" {
		t.Errorf("Op = %q", ioErr.Op)
	}
	if mode != Baud38400 {
		t.Errorf("returned mode = %v, want %v", mode, Baud38400)
	}
	if ctrl.IsConnected() {
		t.Error("expected controller to be disconnected")
	}
	if gauge.closed != 1 {
		t.Errorf("transport closed %d times, want 1", gauge.closed)
	}
}

func TestBaudRateErrorReturnsRequestedMode(t *testing.T) {
	gauge := newMockGauge()
	gauge.ack = []byte{NAK}
	ctrl := New(gauge)

	mode, err := ctrl.SetBaudRate(Baud19200)
	if !IsAcknowledgementError(err) {
		t.Fatalf("expected AcknowledgementError, got %v", err)
	}
	if mode != Baud19200 {
		t.Errorf("returned mode = %v, want %v", mode, Baud19200)
	}
	if gauge.baudRate != 0 {
		t.Errorf("transport rate changed to %d", gauge.baudRate)
	}

	mode, err = ctrl.SetBaudRate(BaudMode(3))
	var paramErr *InvalidParameterError
	if !errors.As(err, &paramErr) {
		t.Fatalf("expected InvalidParameterError, got %v", err)
	}
	if mode != BaudMode(3) {
		t.Errorf("returned mode = %v, want 3", mode)
	}
}

// blockingTransport accepts writes and blocks every read until closed.
type blockingTransport struct {
	wrote  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		wrote:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (b *blockingTransport) Write(p []byte) (int, error) {
	select {
	case b.wrote <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (b *blockingTransport) ReadLine() ([]byte, error) {
	<-b.closed
	return nil, errors.New("port closed")
}

func (b *blockingTransport) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestCloseAbortsBlockedRead(t *testing.T) {
	transport := newBlockingTransport()
	ctrl := New(transport)

	result := make(chan error, 1)
	go func() {
		_, err := ctrl.ErrorStatus()
		result <- err
	}()
	<-transport.wrote

	closed := make(chan error, 1)
	go func() { closed <- ctrl.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() waited for the blocked read")
	}

	select {
	case err := <-result:
		if !IsIOError(err) {
			t.Errorf("expected IOError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked read was not aborted")
	}
	if ctrl.IsConnected() {
		t.Error("expected controller to be disconnected")
	}
}
