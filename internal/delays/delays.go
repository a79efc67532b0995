// Package delays serves the rail disruption history month by month.
package delays

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"buszy.nrfz.sg/internal/clock"
)

const (
	File = "delays.json"

	SeverityMajor = "major"
	SeverityMinor = "minor"

	MsgNoIncidents = "No Incidents Reported."
)

// The history starts in December 2025.
const (
	firstYear  = 2025
	firstMonth = time.December
)

// StringList decodes either a JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = many
	return nil
}

// Record is one entry of delays.json.
type Record struct {
	Title  string     `json:"title"`
	Type   string     `json:"type"`
	Status string     `json:"status"`
	Line   string     `json:"line"`
	From   StringList `json:"from"`
	To     StringList `json:"to"`
	Start  string     `json:"start"`
	End    string     `json:"end"`
	Tags   []string   `json:"tags"`
}

type Route struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Incident struct {
	Record
	Severity string    `json:"severity"`
	Resolved bool      `json:"resolved"`
	Routes   []Route   `json:"routes"`
	Caplet   string    `json:"caplet"`
	StartAt  time.Time `json:"startAt"`
	EndAt    time.Time `json:"endAt,omitempty"`
	// Dates is the "d/m/yyyy - d/m/yyyy" range shown on the card.
	Dates string `json:"dates"`
}

type MonthView struct {
	Year      int        `json:"year"`
	Month     time.Month `json:"month"`
	Label     string     `json:"label"`
	HasPrev   bool       `json:"hasPrev"`
	HasNext   bool       `json:"hasNext"`
	Incidents []Incident `json:"incidents"`
	Message   string     `json:"message,omitempty"`
}

type LineCount struct {
	Line  string `json:"line"`
	Color string `json:"color"`
	Minor int    `json:"minor"`
	Major int    `json:"major"`
}

var lines = []struct{ code, color, caplet string }{
	{"NSL", "#e74c3c", "NSLCap.png"},
	{"EWL", "#2ecc71", "EWLCap.png"},
	{"NEL", "#9b59b6", "NELCap.png"},
	{"CCL", "#f39c12", "CCLCap.png"},
	{"DTL", "#3498db", "DTLCap.png"},
	{"TEL", "#9d5918", "TELCap.png"},
	{"BP", "#718472", "BPCap.png"},
	{"SK", "#718472", "SKCap.png"},
	{"PG", "#718472", "PGCap.png"},
}

func caplet(line string) string {
	for _, l := range lines {
		if strings.EqualFold(l.code, line) {
			return l.caplet
		}
	}
	return "NSLCap.png"
}

// History holds the parsed records. It is read-only after Load.
type History struct {
	incidents []Incident
	clock     clock.Clock
}

// Load reads delays.json from fsys. Records whose start cannot be parsed are
// kept for line counts but never appear in a month.
func Load(fsys fs.FS, clk clock.Clock) (*History, error) {
	data, err := fs.ReadFile(fsys, File)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", File, err)
	}
	return Parse(data, clk)
}

func Parse(data []byte, clk clock.Clock) (*History, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", File, err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	h := &History{clock: clk, incidents: make([]Incident, 0, len(records))}
	for _, r := range records {
		h.incidents = append(h.incidents, newIncident(r))
	}
	return h, nil
}

func newIncident(r Record) Incident {
	in := Incident{
		Record:   r,
		Severity: Severity(r.Title),
		Resolved: r.Status == "Resolved",
		Caplet:   caplet(r.Line),
	}
	n := len(r.From)
	if len(r.To) > n {
		n = len(r.To)
	}
	for i := 0; i < n; i++ {
		var rt Route
		if i < len(r.From) {
			rt.From = r.From[i]
		}
		if i < len(r.To) {
			rt.To = r.To[i]
		}
		in.Routes = append(in.Routes, rt)
	}
	in.StartAt, _ = parseTime(r.Start)
	in.EndAt, _ = parseTime(r.End)
	in.Dates = formatDate(in.StartAt) + " - " + formatDate(in.EndAt)
	return in
}

// Severity classifies a record by its title. Anything not marked major is
// minor.
func Severity(title string) string {
	if strings.Contains(strings.ToLower(title), "major") {
		return SeverityMajor
	}
	return SeverityMinor
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts RFC 3339 and the zone-less forms, which are read as
// Singapore time.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, clock.Singapore); err == nil {
			return t.In(clock.Singapore), true
		}
	}
	return time.Time{}, false
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "--"
	}
	return t.Format("2/1/2006")
}

func monthIndex(year int, month time.Month) int {
	return year*12 + int(month) - 1
}

// bounds returns the first and last browsable months as indexes.
func (h *History) bounds() (int, int) {
	now := h.clock.Now().In(clock.Singapore)
	lo := monthIndex(firstYear, firstMonth)
	hi := monthIndex(now.Year(), now.Month())
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Month returns the incidents that started in the given month, oldest first.
// The month is clamped to [December 2025, current month].
func (h *History) Month(year int, month time.Month) MonthView {
	lo, hi := h.bounds()
	idx := monthIndex(year, month)
	if idx < lo {
		idx = lo
	}
	if idx > hi {
		idx = hi
	}
	year, month = idx/12, time.Month(idx%12+1)

	view := MonthView{
		Year:      year,
		Month:     month,
		Label:     fmt.Sprintf("%s %d", month, year),
		HasPrev:   idx > lo,
		HasNext:   idx < hi,
		Incidents: []Incident{},
	}
	for _, in := range h.incidents {
		if in.StartAt.IsZero() {
			continue
		}
		if in.StartAt.Year() == year && in.StartAt.Month() == month {
			view.Incidents = append(view.Incidents, in)
		}
	}
	sort.SliceStable(view.Incidents, func(i, j int) bool {
		return view.Incidents[i].StartAt.Before(view.Incidents[j].StartAt)
	})
	if len(view.Incidents) == 0 {
		view.Message = MsgNoIncidents
	}
	return view
}

// Current is the month view for today, clamped.
func (h *History) Current() MonthView {
	now := h.clock.Now().In(clock.Singapore)
	return h.Month(now.Year(), now.Month())
}

// Shift moves offset months from year/month, clamped like Month.
func (h *History) Shift(year int, month time.Month, offset int) MonthView {
	idx := monthIndex(year, month) + offset
	return h.Month(idx/12, time.Month(idx%12+1))
}

// LineCounts returns minor and major counts for every known line, in the
// fixed line order. Records on unknown lines are ignored.
func (h *History) LineCounts() []LineCount {
	out := make([]LineCount, len(lines))
	pos := map[string]int{}
	for i, l := range lines {
		out[i] = LineCount{Line: l.code, Color: l.color}
		pos[l.code] = i
	}
	for _, in := range h.incidents {
		i, ok := pos[in.Line]
		if !ok {
			continue
		}
		if in.Severity == SeverityMajor {
			out[i].Major++
		} else {
			out[i].Minor++
		}
	}
	return out
}

func (h *History) Len() int { return len(h.incidents) }
