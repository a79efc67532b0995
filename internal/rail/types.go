package rail

import (
	"encoding/json"
	"strings"
	"time"
)

type Operator string

const (
	OperatorSMRT Operator = "smrt"
	OperatorSBS  Operator = "sbs"
)

// Day keys used by the directions schema, in display order.
var dayOrder = []struct{ key, label string }{
	{"monday_to_friday", "Mon - Fri"},
	{"saturday", "Saturday"},
	{"sunday_public_holidays", "Sun / Holidays"},
	{"eve_of_public_holidays", "Eve of Holidays"},
}

const noTime = "--"

// DayTimes is one row of a direction: first and last train on a day type.
type DayTimes struct {
	Day   string `json:"day"`
	Label string `json:"label"`
	First string `json:"first"`
	Last  string `json:"last"`
}

// TimeItem is one labelled time of a station in the lines schema.
type TimeItem struct {
	Label string `json:"label"`
	// Kind is "first" or "last".
	Kind string `json:"kind"`
	Time string `json:"time"`
}

type Direction struct {
	Description string     `json:"description"`
	Days        []DayTimes `json:"days,omitempty"`
	Items       []TimeItem `json:"items,omitempty"`
}

type Station struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Code       string      `json:"code,omitempty"`
	Operator   Operator    `json:"operator"`
	Line       string      `json:"line,omitempty"`
	Directions []Direction `json:"directions"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Title is the station name prefixed with its code when one is known.
func (s Station) Title() string {
	if s.Code == "" {
		return s.Name
	}
	return s.Code + " " + s.Name
}

// Group is one optgroup of the station picker.
type Group struct {
	Label    string    `json:"label"`
	Stations []Station `json:"stations"`
}

// Raw file shapes.

type rawDirection struct {
	Description string            `json:"description"`
	FirstTrain  map[string]string `json:"first_train"`
	LastTrain   map[string]string `json:"last_train"`
	ScrapedAt   string            `json:"scraped_at"`
}

type rawDirectionStation struct {
	Station    string         `json:"station"`
	Directions []rawDirection `json:"directions"`
	ScrapedAt  string         `json:"scraped_at"`
}

type rawLineStation struct {
	Name                string `json:"name"`
	FirstTrainWeekdays  string `json:"first_train_weekdays"`
	FirstTrainWeekends  string `json:"first_train_weekends"`
	FirstTrainSaturdays string `json:"first_train_saturdays"`
	FirstTrainSundays   string `json:"first_train_sundays"`
	LastTrain           string `json:"last_train"`
	LastTrainWeekdays   string `json:"last_train_weekdays"`
	LastTrainWeekends   string `json:"last_train_weekends"`
}

// expanded reports whether the station carries separate Saturday and Sunday
// first trains.
func (s rawLineStation) expanded() bool {
	return s.FirstTrainSaturdays != ""
}

type rawLine struct {
	Service  string           `json:"service"`
	Stations []rawLineStation `json:"stations"`
}

type rawLines struct {
	Lines     []rawLine `json:"lines"`
	ScrapedAt string    `json:"scraped_at"`
}

// sbsFile holds whichever schema the SBS file uses.
type sbsFile struct {
	lines      *rawLines
	directions []rawDirectionStation
}

func (f *sbsFile) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &f.directions)
	}
	var l rawLines
	if err := json.Unmarshal(data, &l); err != nil {
		return err
	}
	f.lines = &l
	return nil
}

func parseScraped(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
