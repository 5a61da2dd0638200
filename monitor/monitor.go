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
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	cmp "github.com/google/go-cmp/cmp"
	"github.com/mlipscombe/gauge-mate/centertwo"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Gauge is the part of the controller polled by the monitors.
type Gauge interface {
	Pressures() ([3]centertwo.Reading, error)
	ErrorStatus() (centertwo.ErrorStatus, error)
}

// Publisher sends a set of values below a topic.
type Publisher interface {
	PublishMany(topic string, values map[string]interface{}) error
}

var (
	pressureGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gauge_mate",
			Name:      "pressure",
			Help:      "Last pressure reading per channel, in the controller's display unit.",
		},
		[]string{"device", "channel"},
	)
	sensorStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gauge_mate",
			Name:      "sensor_status",
			Help:      "Sensor status code per channel (0 = measurement ok).",
		},
		[]string{"device", "channel"},
	)
	deviceErrorGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gauge_mate",
			Name:      "device_error",
			Help:      "1 while the controller reports the error flag.",
		},
		[]string{"device", "flag"},
	)
	exchangeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gauge_mate",
			Name:      "exchange_errors_total",
			Help:      "Failed protocol exchanges by command and failure kind.",
		},
		[]string{"device", "command", "kind"},
	)
)

func init() {
	prometheus.MustRegister(pressureGauge, sensorStatusGauge, deviceErrorGauge, exchangeErrors)
}

// PressureMonitor samples all three channels and publishes changes.
type PressureMonitor struct {
	gauge    Gauge
	pub      Publisher
	device   string
	readings *ReadingLog
	cache    map[string]interface{}
}

// NewPressureMonitor creates a monitor for one controller. readings may be
// nil to disable the reading log.
func NewPressureMonitor(gauge Gauge, pub Publisher, device string, readings *ReadingLog) *PressureMonitor {
	return &PressureMonitor{
		gauge:    gauge,
		pub:      pub,
		device:   device,
		readings: readings,
		cache:    make(map[string]interface{}),
	}
}

// Poll takes one sample, updates the gauges, appends to the reading log and
// publishes the values that changed since the last sample.
func (m *PressureMonitor) Poll() error {
	readings, err := m.gauge.Pressures()
	if err != nil {
		countError(m.device, "PRX", err)
		return err
	}

	if m.readings != nil {
		if err := m.readings.Record(time.Now(), readings); err != nil {
			log.Errorf("failed to write reading log: %v", err)
		}
	}

	values := make(map[string]interface{})
	for _, r := range readings {
		channel := strconv.Itoa(r.Channel)
		sensorStatusGauge.WithLabelValues(m.device, channel).Set(float64(r.Status))
		if r.Status.Valid() {
			pressureGauge.WithLabelValues(m.device, channel).Set(r.Value)
			values[channel] = r.Value
		}
		values[channel+"_status"] = r.Status.String()
	}

	// Publish if changed
	changeSet := diff(m.cache, values)
	if len(changeSet) == 0 || m.pub == nil {
		return nil
	}
	return m.pub.PublishMany("pressure", changeSet)
}

// StatusMonitor polls the controller error word and publishes changes.
type StatusMonitor struct {
	gauge  Gauge
	pub    Publisher
	device string
	cache  map[string]interface{}
}

func NewStatusMonitor(gauge Gauge, pub Publisher, device string) *StatusMonitor {
	return &StatusMonitor{
		gauge:  gauge,
		pub:    pub,
		device: device,
		cache:  make(map[string]interface{}),
	}
}

func (m *StatusMonitor) Poll() error {
	status, err := m.gauge.ErrorStatus()
	if err != nil {
		countError(m.device, "ERR", err)
		return err
	}

	for _, flag := range []centertwo.DeviceErrorFlags{
		centertwo.FlagDeviceError,
		centertwo.FlagHardwareError,
		centertwo.FlagInvalidParameter,
		centertwo.FlagSyntaxError,
	} {
		v := 0.0
		if status.Flags.Has(flag) {
			v = 1
		}
		deviceErrorGauge.WithLabelValues(m.device, flag.String()).Set(v)
	}

	values := map[string]interface{}{
		"raw":         status.Raw,
		"flags":       int64(status.Flags),
		"description": status.Flags.String(),
		"problem":     problemState(status.Flags),
	}
	changeSet := diff(m.cache, values)
	if len(changeSet) == 0 || m.pub == nil {
		return nil
	}
	return m.pub.PublishMany("error_status", changeSet)
}

func problemState(flags centertwo.DeviceErrorFlags) string {
	if flags != 0 {
		return "ON"
	}
	return "OFF"
}

// poller is satisfied by PressureMonitor and StatusMonitor.
type poller interface {
	Poll() error
}

// Run polls every interval until ctx is cancelled. The returned channel is
// signalled after the first successful poll. A transport failure is fatal
// to the connection, so it is reported on errs and the loop stops.
func Run(ctx context.Context, name string, p poller, interval time.Duration, errs chan<- error) chan bool {
	ready := make(chan bool, 1)
	firstPoll := true

	go func() {
		for {
			err := p.Poll()
			switch {
			case err == nil:
				if firstPoll {
					select {
					case ready <- true:
					default:
					}
					firstPoll = false
				}
			case centertwo.IsIOError(err):
				log.Errorf("%s monitor stopped: %v", name, err)
				select {
				case errs <- fmt.Errorf("%s monitor: %w", name, err):
				default:
				}
				return
			default:
				log.Warnf("%s poll failed: %v", name, err)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()

	return ready
}

// diff updates cache with values and returns the entries that changed.
func diff(cache, values map[string]interface{}) map[string]interface{} {
	changeSet := make(map[string]interface{})
	for key, value := range values {
		if !cmp.Equal(cache[key], value) {
			changeSet[key] = value
			cache[key] = value
		}
	}
	return changeSet
}

func countError(device, command string, err error) {
	exchangeErrors.WithLabelValues(device, command, errorKind(err)).Inc()
}

func errorKind(err error) string {
	var (
		ackErr         *centertwo.AcknowledgementError
		formatErr      *centertwo.ReplyFormatError
		unexpectedErr  *centertwo.UnexpectedValueError
		ioErr          *centertwo.IOError
		invalidErr     *centertwo.InvalidParameterError
		unsupportedErr *centertwo.UnsupportedCommandError
	)
	switch {
	case errors.As(err, &ackErr):
		return "acknowledgement"
	case errors.As(err, &formatErr):
		return "reply_format"
	case errors.As(err, &unexpectedErr):
		return "unexpected_value"
	case errors.As(err, &ioErr):
		return "io"
	case errors.As(err, &invalidErr):
		return "invalid_parameter"
	case errors.As(err, &unsupportedErr):
		return "unsupported"
	default:
		return "other"
	}
}
