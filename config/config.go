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

package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mlipscombe/gauge-mate/centertwo"
	log "github.com/sirupsen/logrus"
)

// Config holds application configuration
type Config struct {
	LogLevel       string
	Bind           string
	SerialPort     string
	BaudRate       int
	Parity         string
	StopBits       string
	ReadTimeout    time.Duration
	MQTTURL        string
	HADiscovery    bool
	PollInterval   time.Duration
	StatusInterval time.Duration
	ReadingLog     string

	// Args holds the positional arguments left after the flags.
	Args []string
}

// Load parses command-line flags and environment variables
func Load() *Config {
	cfg, err := LoadArgs(os.Args[0], os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	return cfg
}

// LoadArgs parses the given arguments with defaults taken from the
// environment.
func LoadArgs(name string, args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&cfg.LogLevel, "log-level", lookupEnvOrString("GAUGE_MATE_LOG_LEVEL", "INFO"), "logging level")
	fs.StringVar(&cfg.Bind, "bind", lookupEnvOrString("GAUGE_MATE_BIND", "0.0.0.0:2112"), "address to bind for healthz and prometheus metrics endpoints (default 0.0.0.0:2112), or \"false\" to disable")
	fs.StringVar(&cfg.SerialPort, "port", lookupEnvOrString("GAUGE_MATE_PORT", "/dev/ttyUSB0"), "serial port of the gauge controller")
	fs.IntVar(&cfg.BaudRate, "baud", lookupEnvOrInt("GAUGE_MATE_BAUD", centertwo.DefaultBaudRate), "serial baud rate (9600, 19200 or 38400)")
	fs.StringVar(&cfg.Parity, "parity", lookupEnvOrString("GAUGE_MATE_PARITY", "none"), "serial parity (none, odd, even, mark, space)")
	fs.StringVar(&cfg.StopBits, "stop-bits", lookupEnvOrString("GAUGE_MATE_STOP_BITS", "2"), "serial stop bits (1, 1.5 or 2)")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", lookupEnvOrDuration("GAUGE_MATE_READ_TIMEOUT", centertwo.DefaultReadTimeout), "serial read timeout")
	fs.StringVar(&cfg.MQTTURL, "mqtt", lookupEnvOrString("GAUGE_MATE_MQTT", "mqtt://localhost:1883"), "MQTT URI, in the format mqtt[s]://[<user>:<password>]@<host>:<port>[/<prefix>], or \"false\" to disable")
	fs.BoolVar(&cfg.HADiscovery, "homeassistant", lookupEnvOrBool("GAUGE_MATE_HOMEASSISTANT", true), "enable Home Assistant autodiscovery (default: true)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", lookupEnvOrDuration("GAUGE_MATE_POLL_INTERVAL", 5*time.Second), "pressure sampling interval")
	fs.DurationVar(&cfg.StatusInterval, "status-interval", lookupEnvOrDuration("GAUGE_MATE_STATUS_INTERVAL", 60*time.Second), "error status polling interval")
	fs.StringVar(&cfg.ReadingLog, "reading-log", lookupEnvOrString("GAUGE_MATE_READING_LOG", ""), "file to append pressure readings to, rotated by size (empty to disable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Args = fs.Args()
	return cfg, nil
}

// SerialConfig converts the serial settings into a port configuration.
func (cfg *Config) SerialConfig() (centertwo.SerialConfig, error) {
	serialCfg := centertwo.DefaultSerialConfig(cfg.SerialPort)
	parity, err := centertwo.ParseParity(cfg.Parity)
	if err != nil {
		return serialCfg, err
	}
	stopBits, err := centertwo.ParseStopBits(cfg.StopBits)
	if err != nil {
		return serialCfg, err
	}
	switch cfg.BaudRate {
	case 9600, 19200, 38400:
	default:
		return serialCfg, fmt.Errorf("unsupported baud rate %d", cfg.BaudRate)
	}
	serialCfg.BaudRate = cfg.BaudRate
	serialCfg.Parity = parity
	serialCfg.StopBits = stopBits
	serialCfg.ReadTimeout = cfg.ReadTimeout
	return serialCfg, nil
}

// SetupLogging configures the logging level
func (cfg *Config) SetupLogging() {
	log.SetFormatter(&log.TextFormatter{})
	ll, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
}

func lookupEnvOrString(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func lookupEnvOrBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		return false
	}
	return defaultVal
}

func lookupEnvOrInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if v, err := strconv.Atoi(val); err == nil {
			return v
		}
		log.Warnf("ignoring invalid %s=%q", key, val)
	}
	return defaultVal
}

func lookupEnvOrDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if v, err := time.ParseDuration(val); err == nil {
			return v
		}
		log.Warnf("ignoring invalid %s=%q", key, val)
	}
	return defaultVal
}
