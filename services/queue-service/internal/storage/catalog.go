package storage

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

// Catalog is the shop configuration: schedule, services and staff.
type Catalog struct {
	Schedule  model.ScheduleConfig
	Services  []model.Service
	Employees []model.Employee
}

type catalogFile struct {
	Schedule struct {
		OperatingDays   []string `yaml:"operating_days"`
		Open            string   `yaml:"open"`
		Close           string   `yaml:"close"`
		SlotStepMinutes int      `yaml:"slot_step_minutes"`
		HorizonDays     int      `yaml:"horizon_days"`
		Timezone        string   `yaml:"timezone"`
		Rooms           []string `yaml:"rooms"`
	} `yaml:"schedule"`
	Services  []model.Service  `yaml:"services"`
	Employees []model.Employee `yaml:"employees"`
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}

	c := Catalog{
		Schedule: model.ScheduleConfig{
			Open:            f.Schedule.Open,
			Close:           f.Schedule.Close,
			SlotStepMinutes: f.Schedule.SlotStepMinutes,
			HorizonDays:     f.Schedule.HorizonDays,
			Timezone:        f.Schedule.Timezone,
			Rooms:           f.Schedule.Rooms,
		},
		Employees: f.Employees,
	}
	for _, name := range f.Schedule.OperatingDays {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return Catalog{}, fmt.Errorf("parse catalog: unknown weekday %q", name)
		}
		c.Schedule.OperatingDays = append(c.Schedule.OperatingDays, d)
	}
	c.Schedule = c.Schedule.Defaults()
	if _, err := c.Schedule.Location(); err != nil {
		return Catalog{}, err
	}

	rooms := make(map[string]bool, len(c.Schedule.Rooms))
	for _, r := range c.Schedule.Rooms {
		rooms[r] = true
	}
	for _, svc := range f.Services {
		if svc.ID == "" || svc.DurationMinutes <= 0 {
			return Catalog{}, fmt.Errorf("parse catalog: service %q needs an id and a positive duration", svc.Name)
		}
		if svc.PriceText != "" {
			p, err := decimal.NewFromString(svc.PriceText)
			if err != nil {
				return Catalog{}, fmt.Errorf("parse catalog: service %s price: %w", svc.ID, err)
			}
			svc.Price = p
		}
		if svc.Room != "" && !rooms[svc.Room] {
			c.Schedule.Rooms = append(c.Schedule.Rooms, svc.Room)
			rooms[svc.Room] = true
		}
		c.Services = append(c.Services, svc)
	}
	return c, nil
}
