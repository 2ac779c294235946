// Package sysstate reports the local clock and device state.
package sysstate

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/storage"
)

// BatteryReader returns the battery percentage, or -1 when unknown.
type BatteryReader func() int

// Snapshot is the state reported by get.
type Snapshot struct {
	DateTime       time.Time
	DayOfWeek      string
	TimeOfDay      string
	BatteryPercent int
}

func (s Snapshot) Record() capability.Record {
	return capability.Record{
		"datetime":        s.DateTime.Format(storage.DateTimeLayout),
		"day_of_week":     s.DayOfWeek,
		"time_of_day":     s.TimeOfDay,
		"battery_percent": s.BatteryPercent,
	}
}

type Capability struct {
	now     storage.Clock
	battery BatteryReader
}

func NewCapability(clock storage.Clock, battery BatteryReader) *Capability {
	if clock == nil {
		clock = storage.SystemClock
	}
	if battery == nil {
		battery = ReadBattery
	}
	return &Capability{now: clock, battery: battery}
}

func (c *Capability) Name() string        { return "system_state" }
func (c *Capability) Description() string { return "current date, time of day and battery" }

func (c *Capability) Actions() []capability.Action {
	return []capability.Action{
		capability.KeywordAction("get", "current system state", nil,
			func(_ context.Context, _ capability.Args) (interface{}, error) {
				return c.Snapshot().Record(), nil
			}),
	}
}

func (c *Capability) Snapshot() Snapshot {
	now := c.now()
	return Snapshot{
		DateTime:       now,
		DayOfWeek:      now.Weekday().String(),
		TimeOfDay:      TimeOfDay(now),
		BatteryPercent: c.battery(),
	}
}

// TimeOfDay buckets the hour: 5-11 morning, 12-16 afternoon, 17-20
// evening, otherwise night.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h <= 11:
		return "morning"
	case h >= 12 && h <= 16:
		return "afternoon"
	case h >= 17 && h <= 20:
		return "evening"
	default:
		return "night"
	}
}

// ReadBattery reads the first power supply under /sys on Linux.
func ReadBattery() int {
	return readBatteryFrom("/sys/class/power_supply")
}

func readBatteryFrom(root string) int {
	matches, err := filepath.Glob(filepath.Join(root, "BAT*", "capacity"))
	if err != nil || len(matches) == 0 {
		return -1
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 || n > 100 {
		return -1
	}
	return n
}
