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
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Direction int

const (
	Get Direction = iota
	Set
)

// Reply field counts with special meaning.
const (
	// AnyFields accepts a list of one or more fields.
	AnyFields = -1
	// Unsplit passes the reply through as a single opaque field.
	Unsplit = 0
)

// Command describes one protocol operation of the controller.
type Command struct {
	Mnemonic  string
	Direction Direction
	Separator string
	Fields    int
}

var (
	CmdAnalogOutput       = Command{Mnemonic: "AOM", Direction: Set, Separator: ",", Fields: 2}
	CmdBaudRate           = Command{Mnemonic: "BAU", Direction: Set, Separator: ",", Fields: 1}
	CmdContinuousMode     = Command{Mnemonic: "COM", Direction: Set, Separator: ", ", Fields: Unsplit}
	CmdCorrectionFactor   = Command{Mnemonic: "COR", Direction: Set, Separator: ",", Fields: 3}
	CmdDisplayDigits      = Command{Mnemonic: "DCD", Direction: Set, Separator: ",", Fields: 1}
	CmdErrorStatus        = Command{Mnemonic: "ERR", Direction: Get, Separator: ",", Fields: 1}
	CmdProgramNumber      = Command{Mnemonic: "PNR", Direction: Get, Separator: ",", Fields: Unsplit}
	CmdPressure1          = Command{Mnemonic: "PR1", Direction: Get, Separator: ",", Fields: 2}
	CmdPressure2          = Command{Mnemonic: "PR2", Direction: Get, Separator: ",", Fields: 2}
	CmdPressure3          = Command{Mnemonic: "PR3", Direction: Get, Separator: ",", Fields: 2}
	CmdPiraniRangeExt     = Command{Mnemonic: "PRE", Direction: Set, Separator: ",", Fields: 3}
	CmdPressures          = Command{Mnemonic: "PRX", Direction: Get, Separator: ",", Fields: 6}
	CmdReset              = Command{Mnemonic: "RES", Direction: Set, Separator: ",", Fields: AnyFields}
	CmdTransmitterID      = Command{Mnemonic: "TID", Direction: Get, Separator: ",", Fields: AnyFields}
	channelPressureByChan = [...]Command{CmdPressure1, CmdPressure2, CmdPressure3}
)

// commands is the table of every mnemonic the driver implements.
var commands = map[string]Command{}

// param is one positional command parameter and its accepted domain.
type param struct {
	name  string
	check func(value string) error
}

func intParam(name string, lo, hi int) param {
	return param{name: name, check: func(value string) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("not an integer")
		}
		if v < lo || v > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}}
}

func floatParam(name string, lo, hi float64) param {
	return param{name: name, check: func(value string) error {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(v) {
			return fmt.Errorf("not a number")
		}
		if v < lo || v > hi {
			return fmt.Errorf("must be between %.2f and %.2f", lo, hi)
		}
		return nil
	}}
}

// params lists the parameters of every command that takes any. Commands
// missing here take none.
var commandParams = map[string][]param{
	"AOM": {intParam("channel", 0, 2), intParam("curve", 0, 25)},
	"BAU": {intParam("mode", int(Baud9600), int(Baud38400))},
	"COM": {intParam("period", int(Period100ms), int(Period1min))},
	"COR": {
		floatParam("cr1", minCorrectionFactor, maxCorrectionFactor),
		floatParam("cr2", minCorrectionFactor, maxCorrectionFactor),
		floatParam("cr3", minCorrectionFactor, maxCorrectionFactor),
	},
	"DCD": {intParam("digits", 2, 3)},
	"PRE": {intParam("re1", 0, 1), intParam("re2", 0, 1), intParam("re3", 0, 1)},
	"RES": {intParam("rst", 1, 1)},
}

func init() {
	for _, cmd := range []Command{
		CmdAnalogOutput,
		CmdBaudRate,
		CmdContinuousMode,
		CmdCorrectionFactor,
		CmdDisplayDigits,
		CmdErrorStatus,
		CmdProgramNumber,
		CmdPressure1,
		CmdPressure2,
		CmdPressure3,
		CmdPiraniRangeExt,
		CmdPressures,
		CmdReset,
		CmdTransmitterID,
	} {
		commands[cmd.Mnemonic] = cmd
	}
}

// LookupCommand returns the table entry for a mnemonic, case-insensitively.
func LookupCommand(mnemonic string) (Command, error) {
	cmd, ok := commands[strings.ToUpper(mnemonic)]
	if !ok {
		return Command{}, &UnsupportedCommandError{Mnemonic: mnemonic}
	}
	return cmd, nil
}

// CheckParams validates raw parameters against the command's parameter
// list. Values containing a field separator or a line break are refused so
// a parameter can never extend the command line.
func (c Command) CheckParams(values ...string) error {
	spec := commandParams[c.Mnemonic]
	if len(values) != len(spec) {
		return &InvalidParameterError{
			Command:   c.Mnemonic,
			Parameter: "parameters",
			Value:     len(values),
			Reason:    fmt.Sprintf("expected %d", len(spec)),
		}
	}
	for i, v := range values {
		if strings.ContainsAny(v, ",\r\n") || strings.Contains(v, c.Separator) {
			return &InvalidParameterError{Command: c.Mnemonic, Parameter: spec[i].name, Value: v, Reason: "contains a separator or line break"}
		}
		if err := spec[i].check(v); err != nil {
			return &InvalidParameterError{Command: c.Mnemonic, Parameter: spec[i].name, Value: v, Reason: err.Error()}
		}
	}
	return nil
}

// Encode builds the command line without the line terminator.
func (c Command) Encode(params ...string) []byte {
	if len(params) == 0 {
		return []byte(c.Mnemonic)
	}
	return []byte(c.Mnemonic + "," + strings.Join(params, ","))
}

// Split breaks a reply into fields using the command's separator and checks
// the field count against the table.
func (c Command) Split(reply string) ([]string, error) {
	if reply == "" {
		return nil, fmt.Errorf("empty reply")
	}
	if c.Fields == Unsplit {
		return []string{reply}, nil
	}
	fields := strings.Split(reply, c.Separator)
	if c.Fields != AnyFields && len(fields) != c.Fields {
		return nil, fmt.Errorf("got %d fields, want %d", len(fields), c.Fields)
	}
	return fields, nil
}

func (c Command) String() string {
	return c.Mnemonic
}
