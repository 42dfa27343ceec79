// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config holds the simulation's tunable constants, with
// defaults matching the literal values in spec.md, optionally
// overridden from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Tunables holds every constant spec.md calls out by name or by
// literal value, so a run can be retuned without a rebuild.
type Tunables struct {
	// CheckInterval is how often the operator runs its watchdog and
	// replenish pass (spec.md §4.5, CHECK_INTERVAL).
	CheckInterval time.Duration

	// CooperativeWait bounds how long the operator's event loop
	// sleeps when no request is pending, cancellable by an inbound
	// directive (spec.md §4.5, "~50 ms").
	CooperativeWait time.Duration

	// LandingPollInterval is how often a drone in RequestingLand
	// polls for its grant while continuing to drain battery
	// (spec.md §5, "~100 ms").
	LandingPollInterval time.Duration

	// CrossingTime is how long a channel crossing takes in either
	// direction (spec.md §4.7, CROSSING_TIME).
	CrossingTime time.Duration

	// BatteryFull is the maximum battery percentage.
	BatteryFull float64

	// BatteryCritical is the battery threshold at which a Flying
	// drone transitions to RequestingLand (spec.md §4.7,
	// BATTERY_CRITICAL).
	BatteryCritical float64

	// ChargeDuration is the nominal charge time T1, seconds
	// (spec.md §3, CONST_CHARGE_TIME in the original).
	ChargeDuration time.Duration

	// FlightDurationFactor is the multiplier from T1 to T2
	// (spec.md §3: "T2 ~ 2.5*T1").
	FlightDurationFactor float64

	// MaxCycles is the wear-out limit on flight cycles before a
	// drone is retired (spec.md §3, max_cycles).
	MaxCycles int

	// WaitQueueCapacity bounds the Landing/Takeoff queues
	// (spec.md §3, "~1024").
	WaitQueueCapacity int

	// Channels is the number of transit tunnels (spec.md §3:
	// "exactly two").
	Channels int
}

// Default returns the tunables matching spec.md's literal constants.
func Default() Tunables {
	return Tunables{
		CheckInterval:        5 * time.Second,
		CooperativeWait:      50 * time.Millisecond,
		LandingPollInterval:  100 * time.Millisecond,
		CrossingTime:         time.Second,
		BatteryFull:          100,
		BatteryCritical:      20,
		ChargeDuration:       5 * time.Second,
		FlightDurationFactor: 2.5,
		MaxCycles:            3,
		WaitQueueCapacity:    1024,
		Channels:             2,
	}
}

// FlightDuration returns T2, the max flight duration.
func (t Tunables) FlightDuration() time.Duration {
	return time.Duration(float64(t.ChargeDuration) * t.FlightDurationFactor)
}

// DrainRatePerSecond returns the battery-percent-per-second drain
// rate while Flying or RequestingLand: 80 / T2 (spec.md §3).
func (t Tunables) DrainRatePerSecond() float64 {
	return 80.0 / t.FlightDuration().Seconds()
}

// overlay mirrors Tunables but with durations spelled as
// time.ParseDuration strings ("5s", "100ms"), since yaml.v2 has no
// built-in notion of time.Duration. Only fields actually present in
// the YAML document overwrite the corresponding Tunables field.
type overlay struct {
	CheckInterval        string   `yaml:"check_interval"`
	CooperativeWait      string   `yaml:"cooperative_wait"`
	LandingPollInterval  string   `yaml:"landing_poll_interval"`
	CrossingTime         string   `yaml:"crossing_time"`
	BatteryFull          *float64 `yaml:"battery_full"`
	BatteryCritical      *float64 `yaml:"battery_critical"`
	ChargeDuration       string   `yaml:"charge_duration"`
	FlightDurationFactor *float64 `yaml:"flight_duration_factor"`
	MaxCycles            *int     `yaml:"max_cycles"`
	WaitQueueCapacity    *int     `yaml:"wait_queue_capacity"`
	Channels             *int     `yaml:"channels"`
}

func (o overlay) apply(cfg *Tunables) error {
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{o.CheckInterval, &cfg.CheckInterval},
		{o.CooperativeWait, &cfg.CooperativeWait},
		{o.LandingPollInterval, &cfg.LandingPollInterval},
		{o.CrossingTime, &cfg.CrossingTime},
		{o.ChargeDuration, &cfg.ChargeDuration},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	if o.BatteryFull != nil {
		cfg.BatteryFull = *o.BatteryFull
	}
	if o.BatteryCritical != nil {
		cfg.BatteryCritical = *o.BatteryCritical
	}
	if o.FlightDurationFactor != nil {
		cfg.FlightDurationFactor = *o.FlightDurationFactor
	}
	if o.MaxCycles != nil {
		cfg.MaxCycles = *o.MaxCycles
	}
	if o.WaitQueueCapacity != nil {
		cfg.WaitQueueCapacity = *o.WaitQueueCapacity
	}
	if o.Channels != nil {
		cfg.Channels = *o.Channels
	}
	return nil
}

// Load reads YAML overrides from path on top of Default(). A missing
// file is not an error — Default() alone is a complete, valid
// configuration.
func Load(path string) (Tunables, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := o.apply(&cfg); err != nil {
		return cfg, fmt.Errorf("applying config %s: %w", path, err)
	}
	return cfg, nil
}
