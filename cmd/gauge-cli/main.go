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

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mlipscombe/gauge-mate/centertwo"
	"github.com/mlipscombe/gauge-mate/config"
	log "github.com/sirupsen/logrus"
)

// gauge-cli runs a single command against the controller and prints the
// reply fields, e.g. "gauge-cli -port /dev/ttyUSB0 PR1".
func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	if len(cfg.Args) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <command> [parameter...]\n", os.Args[0])
		os.Exit(2)
	}

	serialCfg, err := cfg.SerialConfig()
	if err != nil {
		log.Fatalf("Invalid serial configuration: %v", err)
	}
	gauge, err := centertwo.Dial(serialCfg)
	if err != nil {
		log.Fatalf("Failed to connect to gauge controller: %v", err)
	}
	defer gauge.Close()

	fields, err := gauge.Send(cfg.Args[0], cfg.Args[1:]...)
	if err != nil {
		var ackErr *centertwo.AcknowledgementError
		if errors.As(err, &ackErr) && ackErr.Received == centertwo.Nak {
			log.Error("Command rejected by controller, check the parameters")
		}
		gauge.Close()
		log.Fatal(err)
	}

	fmt.Println(strings.Join(fields, ","))
}
