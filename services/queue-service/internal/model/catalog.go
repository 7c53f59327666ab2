package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Service struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name"`
	Price           decimal.Decimal `json:"price" yaml:"-"`
	PriceText       string          `json:"-" yaml:"price"`
	DurationMinutes int             `json:"duration_minutes" yaml:"duration_minutes"`
	Room            string          `json:"room" yaml:"room"`
}

type Employee struct {
	ID                string         `json:"id" yaml:"id"`
	Name              string         `json:"name" yaml:"name"`
	Active            bool           `json:"active" yaml:"active"`
	Specialties       []string       `json:"specialties" yaml:"specialties"`
	DurationOverrides map[string]int `json:"duration_overrides,omitempty" yaml:"duration_overrides"`
}

func (e Employee) Serves(room string) bool {
	if len(e.Specialties) == 0 {
		return true
	}
	for _, s := range e.Specialties {
		if strings.EqualFold(s, room) {
			return true
		}
	}
	return false
}

// DurationFor returns the staff-configured duration for the service, falling
// back to the service's nominal duration.
func (e Employee) DurationFor(svc Service) int {
	if mins, ok := e.DurationOverrides[svc.ID]; ok && mins > 0 {
		return mins
	}
	return svc.DurationMinutes
}

const (
	DefaultOpen            = "08:00"
	DefaultClose           = "19:00"
	DefaultSlotStepMinutes = 30
	DefaultHorizonDays     = 30
)

type ScheduleConfig struct {
	OperatingDays   []time.Weekday `json:"operating_days"`
	Open            string         `json:"open"`
	Close           string         `json:"close"`
	SlotStepMinutes int            `json:"slot_step_minutes"`
	HorizonDays     int            `json:"horizon_days"`
	Timezone        string         `json:"timezone"`
	Rooms           []string       `json:"rooms"`
}

// Defaults fills every unset field with the shop defaults (Mon-Sat, 08:00-19:00,
// 30 minute steps, 30 day horizon).
func (c ScheduleConfig) Defaults() ScheduleConfig {
	if len(c.OperatingDays) == 0 {
		c.OperatingDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
	}
	if c.Open == "" {
		c.Open = DefaultOpen
	}
	if c.Close == "" {
		c.Close = DefaultClose
	}
	if c.SlotStepMinutes <= 0 {
		c.SlotStepMinutes = DefaultSlotStepMinutes
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultHorizonDays
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	return c
}

func (c ScheduleConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c ScheduleConfig) OpenOn(day time.Weekday) bool {
	for _, d := range c.OperatingDays {
		if d == day {
			return true
		}
	}
	return false
}

func (c ScheduleConfig) SlotStep() time.Duration {
	return time.Duration(c.SlotStepMinutes) * time.Minute
}
