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

import "fmt"

const pressureUnit = "mbar"

// AllEntities returns every entity announced for a gauge controller.
func AllEntities() []EntityConfig {
	var entities []EntityConfig

	for ch := 1; ch <= 3; ch++ {
		entities = append(entities,
			EntityConfig{
				Key:         fmt.Sprintf("pressure_%d", ch),
				Name:        fmt.Sprintf("Pressure %d", ch),
				EntityType:  Sensor,
				DeviceClass: "pressure",
				StateClass:  "measurement",
				Unit:        pressureUnit,
				StateTopic:  fmt.Sprintf("pressure/%d", ch),
			},
			EntityConfig{
				Key:            fmt.Sprintf("pressure_%d_status", ch),
				Name:           fmt.Sprintf("Sensor %d status", ch),
				EntityType:     Sensor,
				EntityCategory: "diagnostic",
				Icon:           "mdi:gauge-empty",
				StateTopic:     fmt.Sprintf("pressure/%d_status", ch),
			},
		)
	}

	entities = append(entities,
		EntityConfig{
			Key:            "error",
			Name:           "Error",
			EntityType:     BinarySensor,
			EntityCategory: "diagnostic",
			DeviceClass:    "problem",
			StateTopic:     "error_status/problem",
		},
		EntityConfig{
			Key:            "error_description",
			Name:           "Error status",
			EntityType:     Sensor,
			EntityCategory: "diagnostic",
			Icon:           "mdi:alert-circle-outline",
			StateTopic:     "error_status/description",
		},
		EntityConfig{
			Key:            "program_number",
			Name:           "Firmware version",
			EntityType:     Sensor,
			EntityCategory: "diagnostic",
			Icon:           "mdi:chip",
			StateTopic:     "device/program_number",
		},
		EntityConfig{
			Key:            "transmitters",
			Name:           "Transmitters",
			EntityType:     Sensor,
			EntityCategory: "diagnostic",
			Icon:           "mdi:connection",
			StateTopic:     "device/transmitters",
		},
		EntityConfig{
			Key:            "reset",
			Name:           "Reset",
			EntityType:     Button,
			EntityCategory: "config",
			DeviceClass:    "restart",
			CommandTopic:   "set/res",
			PayloadPress:   "1",
		},
		EntityConfig{
			Key:            "display_digits",
			Name:           "Display digits",
			EntityType:     Number,
			EntityCategory: "config",
			Icon:           "mdi:numeric",
			StateTopic:     "result/dcd",
			CommandTopic:   "set/dcd",
			MinValue:       2,
			MaxValue:       3,
			Step:           "1",
			Mode:           "box",
		},
		EntityConfig{
			Key:            "correction_factors",
			Name:           "Correction factors",
			EntityType:     Text,
			EntityCategory: "config",
			Icon:           "mdi:tune-variant",
			StateTopic:     "result/cor",
			CommandTopic:   "set/cor",
			Pattern:        `^\d\.\d{1,2},\d\.\d{1,2},\d\.\d{1,2}$`,
		},
		EntityConfig{
			Key:            "pirani_range_extension",
			Name:           "Pirani range extension",
			EntityType:     Text,
			EntityCategory: "config",
			Icon:           "mdi:arrow-expand-horizontal",
			StateTopic:     "result/pre",
			CommandTopic:   "set/pre",
			Pattern:        `^(ON|OFF),(ON|OFF),(ON|OFF)$`,
		},
	)

	return entities
}
