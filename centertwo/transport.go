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
	"io"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Transport is a line-oriented duplex byte channel to the controller.
//
// ReadLine returns one line with the trailing CR/LF removed. When the read
// timeout elapses before a line feed arrives it returns whatever was
// received so far, possibly nothing, and a nil error. Close may be called
// while a ReadLine is blocked and makes it return an error.
type Transport interface {
	Write(p []byte) (int, error)
	ReadLine() ([]byte, error)
	Close() error
}

// baudRateSetter is implemented by transports that can change line speed
// without reopening.
type baudRateSetter interface {
	SetBaudRate(rate int) error
}

// SerialConfig holds the RS232 settings of the controller port.
type SerialConfig struct {
	Port        string
	BaudRate    int
	Parity      serial.Parity
	StopBits    serial.StopBits
	ReadTimeout time.Duration
}

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 1 * time.Second
)

func (cfg *SerialConfig) setDefaults() {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
}

func (cfg SerialConfig) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
	}
}

// ParseParity maps none/odd/even/mark/space onto a serial parity setting.
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(s) {
	case "", "n", "none":
		return serial.NoParity, nil
	case "o", "odd":
		return serial.OddParity, nil
	case "e", "even":
		return serial.EvenParity, nil
	case "m", "mark":
		return serial.MarkParity, nil
	case "s", "space":
		return serial.SpaceParity, nil
	}
	return serial.NoParity, fmt.Errorf("unknown parity %q", s)
}

// ParseStopBits maps 1, 1.5 or 2 onto a serial stop bit setting.
func ParseStopBits(s string) (serial.StopBits, error) {
	switch s {
	case "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "", "2":
		return serial.TwoStopBits, nil
	}
	return serial.TwoStopBits, fmt.Errorf("unknown stop bits %q", s)
}

// SerialTransport is a Transport over a local serial port.
type SerialTransport struct {
	cfg    SerialConfig
	mu     sync.Mutex
	port   serial.Port
	reader *lineReader
}

// DefaultSerialConfig returns the controller's factory line settings:
// 9600 baud, 8 data bits, no parity, 2 stop bits.
func DefaultSerialConfig(port string) SerialConfig {
	return SerialConfig{
		Port:        port,
		BaudRate:    DefaultBaudRate,
		Parity:      serial.NoParity,
		StopBits:    serial.TwoStopBits,
		ReadTimeout: DefaultReadTimeout,
	}
}

// OpenSerial opens and configures the port described by cfg. A zero baud
// rate or read timeout takes the controller default.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	cfg.setDefaults()
	port, err := serial.Open(cfg.Port, cfg.mode())
	if err != nil {
		return nil, &ConnectError{Port: cfg.Port, Err: err}
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, &ConnectError{Port: cfg.Port, Err: fmt.Errorf("set read timeout: %w", err)}
	}
	log.Debugf("opened %s at %d baud", cfg.Port, cfg.BaudRate)
	return &SerialTransport{
		cfg:    cfg,
		port:   port,
		reader: newLineReader(port),
	}, nil
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	port, err := t.current()
	if err != nil {
		return 0, err
	}
	return port.Write(p)
}

func (t *SerialTransport) ReadLine() ([]byte, error) {
	if _, err := t.current(); err != nil {
		return nil, err
	}
	return t.reader.ReadLine()
}

// SetBaudRate reconfigures the open port to a new line speed.
func (t *SerialTransport) SetBaudRate(rate int) error {
	port, err := t.current()
	if err != nil {
		return err
	}
	cfg := t.cfg
	cfg.BaudRate = rate
	if err := port.SetMode(cfg.mode()); err != nil {
		return err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	log.Infof("%s switched to %d baud", cfg.Port, rate)
	return nil
}

// Close releases the port. Closing an already closed transport is a no-op.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *SerialTransport) current() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}
	return t.port, nil
}

// lineReader splits a stream whose reads return (0, nil) on timeout into
// LF-terminated lines. bufio.Reader treats repeated empty reads as an error,
// so the buffering is done here.
type lineReader struct {
	r       io.Reader
	pending []byte
	chunk   []byte
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r, chunk: make([]byte, 64)}
}

func (lr *lineReader) ReadLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(lr.pending, LF); i >= 0 {
			line := trimLine(lr.pending[:i])
			lr.pending = append([]byte(nil), lr.pending[i+1:]...)
			return line, nil
		}
		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.pending = append(lr.pending, lr.chunk[:n]...)
			continue
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		// timeout or end of stream: hand back the partial line
		line := trimLine(lr.pending)
		lr.pending = nil
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		return line, nil
	}
}

func trimLine(b []byte) []byte {
	return append([]byte(nil), bytes.TrimRight(b, "\r\n")...)
}
