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
	"strings"
)

// mockGauge simulates the controller side of the CAE protocol. Each
// command line is answered with the configured acknowledgement; an enquiry
// is answered with the reply for the last command. Set commands without a
// configured reply echo their parameters back, as the device does.
type mockGauge struct {
	replies  map[string]string
	ack      []byte
	writes   [][]byte
	queue    [][]byte
	pending  string
	writeErr error
	readErr  error
	closed   int
	baudRate int
	baudErr  error

	// onSetBaudRate runs when the transport is asked to change speed.
	onSetBaudRate func()
}

func newMockGauge() *mockGauge {
	return &mockGauge{
		replies: make(map[string]string),
		ack:     []byte{ACK},
	}
}

func (m *mockGauge) SetReply(mnemonic, reply string) {
	m.replies[mnemonic] = reply
}

func (m *mockGauge) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, append([]byte(nil), p...))

	if len(p) == 1 && p[0] == ENQ {
		m.queue = append(m.queue, []byte(m.pending+"\r\n"))
		m.pending = ""
		return len(p), nil
	}

	line := strings.TrimRight(string(p), "\r\n")
	parts := strings.SplitN(line, ",", 2)
	if reply, ok := m.replies[parts[0]]; ok {
		m.pending = reply
	} else if len(parts) == 2 {
		m.pending = parts[1]
	} else {
		m.pending = ""
	}
	if m.ack != nil {
		m.queue = append(m.queue, append(append([]byte(nil), m.ack...), CR, LF))
	}
	return len(p), nil
}

// ReadLine returns the next queued line, or an empty line when nothing is
// queued, mirroring a read timeout.
func (m *mockGauge) ReadLine() ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(m.queue) == 0 {
		return nil, nil
	}
	line := m.queue[0]
	m.queue = m.queue[1:]
	return trimLine(line), nil
}

func (m *mockGauge) Close() error {
	m.closed++
	return nil
}

func (m *mockGauge) SetBaudRate(rate int) error {
	if m.onSetBaudRate != nil {
		m.onSetBaudRate()
	}
	if m.baudErr != nil {
		return m.baudErr
	}
	m.baudRate = rate
	return nil
}

// enquiries counts how many enquiry bytes were written.
func (m *mockGauge) enquiries() int {
	n := 0
	for _, w := range m.writes {
		if len(w) == 1 && w[0] == ENQ {
			n++
		}
	}
	return n
}
