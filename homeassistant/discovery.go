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

package homeassistant

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Publisher sends a retained JSON document to an absolute topic.
type Publisher interface {
	PublishJSON(topic string, val interface{}) error
}

// DeviceInfo identifies the controller in the discovery device block.
type DeviceInfo struct {
	ID            string
	ProgramNumber string
	Port          string
}

// PublishDiscovery sends Home Assistant MQTT discovery messages
// Waits for data to be ready before publishing
func PublishDiscovery(pub Publisher, device DeviceInfo, prefix string, ready <-chan bool) int {
	log.Infof("Publishing Home Assistant discovery messages for %s", device.ID)

	// Wait for initial data to be ready
	if ready != nil {
		log.Debug("Waiting for initial data before publishing discovery messages...")
		<-ready
		log.Debug("Initial data ready, publishing discovery messages")
	}

	devBlock := createDeviceBlock(device)

	return publishEntities(pub, device.ID, prefix, devBlock)
}

func createDeviceBlock(device DeviceInfo) map[string]interface{} {
	return map[string]interface{}{
		"ids":  []string{fmt.Sprintf("gauge_%s", device.ID)},
		"name": fmt.Sprintf("CenterTwo Gauge (%s)", device.ID),
		"sw":   device.ProgramNumber,
		"mf":   "Leybold",
		"mdl":  "CENTER TWO",
		"sa":   device.Port,
	}
}

func publishEntities(pub Publisher, id, prefix string, devBlock map[string]interface{}) int {
	entities := AllEntities()
	published := 0

	for _, entity := range entities {
		config := entity.Build(id, prefix, devBlock)
		topic := entity.GetDiscoveryTopic(id)

		if err := pub.PublishJSON(topic, config); err != nil {
			log.Errorf("Error publishing discovery message for %s (%s): %v", entity.Name, entity.Key, err)
		} else {
			log.Debugf("Published discovery for %s at %s", entity.Name, topic)
			published++
		}
	}

	log.Infof("Published %d entity discovery messages", published)
	return published
}
