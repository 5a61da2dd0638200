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

package monitor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mlipscombe/gauge-mate/centertwo"
	log "github.com/sirupsen/logrus"
)

// Setter is the part of the controller reachable through set topics.
type Setter interface {
	SetAnalogOutput(channel, curve int) (centertwo.AnalogOutput, error)
	SetBaudRate(mode centertwo.BaudMode) (centertwo.BaudMode, error)
	SetCorrectionFactors(cr1, cr2, cr3 float64) ([3]float64, error)
	SetDisplayDigits(digits int) (int, error)
	SetPiraniRangeExtension(re1, re2, re3 bool) ([3]bool, error)
	Reset(rst int) ([]centertwo.QueuedError, error)
}

// ParseSetTopic returns the command name of a set topic
// (e.g. "gauge/ttyUSB0/set/dcd" -> "dcd").
func ParseSetTopic(topic string) string {
	topicParts := strings.Split(topic, "/")
	if len(topicParts) < 2 || topicParts[len(topicParts)-2] != "set" {
		return ""
	}
	return strings.ToLower(topicParts[len(topicParts)-1])
}

// HandleSetCommand applies a comma separated payload to the controller and
// publishes what the device reported to result/<command>. A mismatching
// echo is published too before the error is returned.
func HandleSetCommand(setter Setter, pub Publisher, command string, payload []byte) error {
	args := splitPayload(payload)

	result, err := applySetCommand(setter, command, args)
	if err != nil && !centertwo.IsUnexpectedValue(err) {
		return fmt.Errorf("set %s: %w", command, err)
	}

	log.Infof("Set %s to %s: %v", command, payload, result)
	if pub != nil {
		if perr := pub.PublishMany("result", map[string]interface{}{command: result}); perr != nil {
			log.Errorf("Failed to publish result of %s: %v", command, perr)
		}
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", command, err)
	}
	return nil
}

func applySetCommand(setter Setter, command string, args []string) (interface{}, error) {
	switch command {
	case "aom":
		ints, err := payloadInts(command, args, 2)
		if err != nil {
			return nil, err
		}
		out, err := setter.SetAnalogOutput(ints[0], ints[1])
		return fmt.Sprintf("%d,%d", out.Channel, out.Curve), err

	case "bau":
		ints, err := payloadInts(command, args, 1)
		if err != nil {
			return nil, err
		}
		mode, err := setter.SetBaudRate(baudModeFromPayload(ints[0]))
		if rate := mode.Rate(); rate != 0 {
			return rate, err
		}
		return int(mode), err

	case "cor":
		if len(args) != 3 {
			return nil, payloadError(command, args, "expected 3 correction factors")
		}
		var cr [3]float64
		for i, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return nil, payloadError(command, args, err.Error())
			}
			cr[i] = v
		}
		out, err := setter.SetCorrectionFactors(cr[0], cr[1], cr[2])
		return fmt.Sprintf("%.2f,%.2f,%.2f", out[0], out[1], out[2]), err

	case "dcd":
		ints, err := payloadInts(command, args, 1)
		if err != nil {
			return nil, err
		}
		return setter.SetDisplayDigits(ints[0])

	case "pre":
		if len(args) != 3 {
			return nil, payloadError(command, args, "expected 3 switches")
		}
		var re [3]bool
		for i, a := range args {
			v, err := parseSwitch(a)
			if err != nil {
				return nil, payloadError(command, args, err.Error())
			}
			re[i] = v
		}
		out, err := setter.SetPiraniRangeExtension(re[0], re[1], re[2])
		return fmt.Sprintf("%s,%s,%s", onOff(out[0]), onOff(out[1]), onOff(out[2])), err

	case "res":
		rst := 1
		if len(args) > 0 {
			ints, err := payloadInts(command, args, 1)
			if err != nil {
				return nil, err
			}
			rst = ints[0]
		}
		queued, err := setter.Reset(rst)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(queued))
		for i, q := range queued {
			names[i] = q.String()
		}
		return names, nil
	}

	return nil, &centertwo.UnsupportedCommandError{Mnemonic: command}
}

// baudModeFromPayload accepts either the mode number or the bit rate.
func baudModeFromPayload(v int) centertwo.BaudMode {
	for _, mode := range []centertwo.BaudMode{centertwo.Baud9600, centertwo.Baud19200, centertwo.Baud38400} {
		if v == mode.Rate() {
			return mode
		}
	}
	return centertwo.BaudMode(v)
}

func splitPayload(payload []byte) []string {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return nil
	}
	args := strings.Split(s, ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return args
}

func payloadInts(command string, args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, payloadError(command, args, fmt.Sprintf("expected %d values", n))
	}
	ints := make([]int, n)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, payloadError(command, args, err.Error())
		}
		ints[i] = v
	}
	return ints, nil
}

func payloadError(command string, args []string, reason string) error {
	return &centertwo.InvalidParameterError{
		Command:   strings.ToUpper(command),
		Parameter: "payload",
		Value:     strings.Join(args, ","),
		Reason:    reason,
	}
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "1", "ON", "TRUE":
		return true, nil
	case "0", "OFF", "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q", s)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
