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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	healthz "github.com/klyve/go-healthz"
	"github.com/mlipscombe/gauge-mate/centertwo"
	"github.com/mlipscombe/gauge-mate/config"
	"github.com/mlipscombe/gauge-mate/homeassistant"
	"github.com/mlipscombe/gauge-mate/monitor"
	"github.com/mlipscombe/gauge-mate/mqtt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// determineMQTTPrefix extracts the MQTT prefix from the URL path, or generates one from the device id
func determineMQTTPrefix(mqttURL *url.URL, id string) string {
	if len(mqttURL.Path) > 1 {
		return mqttURL.Path[1:]
	}
	return fmt.Sprintf("gauge/%s", id)
}

// deviceID derives a topic-safe identifier from the serial port path
func deviceID(port string) string {
	id := filepath.Base(port)
	id = strings.NewReplacer(".", "_", " ", "_", ":", "_").Replace(id)
	if id == "" || id == "/" {
		return "default"
	}
	return id
}

func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	if cfg.Bind != "false" {
		go func(listenAddress string) {
			log.Infof("Starting metrics server on %s", listenAddress)
			instance := healthz.Instance{
				Logger:   log.New(),
				Detailed: true,
			}

			http.Handle("/metrics", promhttp.Handler())
			http.Handle("/healthz", instance.Healthz())
			http.Handle("/liveness", instance.Liveness())

			if err := http.ListenAndServe(listenAddress, nil); err != nil {
				log.Errorf("HTTP server error: %v", err)
			}
		}(cfg.Bind)
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

	id := deviceID(cfg.SerialPort)
	programNumber, err := gauge.ProgramNumber()
	if err != nil {
		log.Warnf("Failed to read program number: %v", err)
	}
	transmitters, err := gauge.TransmitterIDs()
	if err != nil {
		log.Warnf("Failed to read transmitter identification: %v", err)
	}
	log.Infof("Connected to gauge controller on %s (program: %s, transmitters: %s)",
		cfg.SerialPort, programNumber, strings.Join(transmitters, ", "))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var readingLog *monitor.ReadingLog
	if cfg.ReadingLog != "" {
		readingLog = monitor.NewReadingLog(cfg.ReadingLog)
		defer readingLog.Close()
		log.Infof("Logging readings to %s", cfg.ReadingLog)
	}

	var pub monitor.Publisher
	var mqttClient *mqtt.Client
	var mqttPrefix string
	if cfg.MQTTURL != "false" {
		mqttUrl, err := url.Parse(cfg.MQTTURL)
		if err != nil {
			log.Fatalf("Invalid MQTT URL: %s", cfg.MQTTURL)
		}

		mqttPrefix = determineMQTTPrefix(mqttUrl, id)
		mqttClient, err = mqtt.NewClient(mqttUrl, fmt.Sprintf("gauge-mate-%s", id), mqttPrefix)
		if err != nil {
			log.Errorf("Failed to create MQTT client: %s", err)
			os.Exit(1)
		}
		defer mqttClient.Close()
		pub = mqttClient

		log.Infof("Connected to MQTT broker %s (publishing on \"%s\")", mqttUrl.Host, mqttPrefix)

		if err := mqttClient.Subscribe("set/+", 1, func(client *mqtt.Client, msg mqtt.Message) {
			command := monitor.ParseSetTopic(msg.Topic())
			if err := monitor.HandleSetCommand(gauge, client, command, msg.Payload()); err != nil {
				log.Errorf("Failed to set %s to %s: %v", command, msg.Payload(), err)
			}
		}); err != nil {
			log.Errorf("Failed to subscribe to set topics: %v", err)
		}

		go func() {
			if err := mqttClient.PublishMany("device", map[string]interface{}{
				"program_number": programNumber,
				"transmitters":   strings.Join(transmitters, ", "),
				"port":           cfg.SerialPort,
			}); err != nil {
				log.Errorf("Failed to publish device info: %v", err)
			}
		}()
	}

	doneChan := make(chan error, 2)

	pressureReady := monitor.Run(ctx, "pressure",
		monitor.NewPressureMonitor(gauge, pub, id, readingLog), cfg.PollInterval, doneChan)
	statusReady := monitor.Run(ctx, "status",
		monitor.NewStatusMonitor(gauge, pub, id), cfg.StatusInterval, doneChan)

	if cfg.HADiscovery && mqttClient != nil {
		go func() {
			// Combine all ready signals
			allReady := make(chan bool, 1)
			go func() {
				<-pressureReady
				<-statusReady
				allReady <- true
			}()

			homeassistant.PublishDiscovery(mqttClient, homeassistant.DeviceInfo{
				ID:            id,
				ProgramNumber: programNumber,
				Port:          cfg.SerialPort,
			}, mqttPrefix, allReady)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case runErr = <-doneChan:
	}

	if runErr != nil {
		log.Error(runErr)
		stop()
		if mqttClient != nil {
			mqttClient.Close()
		}
		gauge.Close()
		os.Exit(1)
	}
}
