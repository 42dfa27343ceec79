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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultDrainRate(t *testing.T) {
	cfg := Default()
	// T2 = 2.5 * 5s = 12.5s; drain = 80/12.5 = 6.4 %/s
	got := cfg.DrainRatePerSecond()
	want := 6.4
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("DrainRatePerSecond = %v, want %v", got, want)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load(missing) = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesSubset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.yaml")
	contents := []byte("check_interval: 1s\nmax_cycles: 7\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CheckInterval != time.Second {
		t.Fatalf("CheckInterval = %v, want 1s", cfg.CheckInterval)
	}
	if cfg.MaxCycles != 7 {
		t.Fatalf("MaxCycles = %d, want 7", cfg.MaxCycles)
	}
	// untouched fields keep their defaults
	if cfg.BatteryCritical != Default().BatteryCritical {
		t.Fatalf("BatteryCritical = %v, want default", cfg.BatteryCritical)
	}
}
