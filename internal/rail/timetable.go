package rail

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrStationNotFound = errors.New("station not found")

// Timetable is the merged, read-only station list.
type Timetable struct {
	stations []Station
	byID     map[string]int
}

func merge(smrt []rawDirectionStation, sbs sbsFile, codes map[string]string) *Timetable {
	tt := &Timetable{byID: map[string]int{}}

	for i, s := range smrt {
		tt.add(Station{
			ID:         fmt.Sprintf("smrt-%d", i),
			Name:       s.Station,
			Code:       codes[s.Station],
			Operator:   OperatorSMRT,
			Directions: convertDirections(s.Directions),
			UpdatedAt:  parseScraped(s.ScrapedAt),
		})
	}

	if sbs.lines != nil {
		updated := parseScraped(sbs.lines.ScrapedAt)
		for li, line := range sbs.lines.Lines {
			name := lineName(line.Service)
			for si, st := range line.Stations {
				tt.add(Station{
					ID:       fmt.Sprintf("sbs-%d-%d", li, si),
					Name:     st.Name,
					Operator: OperatorSBS,
					Line:     name,
					Directions: []Direction{{
						Description: st.Name,
						Items:       lineItems(st),
					}},
					UpdatedAt: updated,
				})
			}
		}
	}
	for i, s := range sbs.directions {
		var updated time.Time
		if len(s.Directions) > 0 {
			updated = parseScraped(s.Directions[0].ScrapedAt)
		}
		tt.add(Station{
			ID:         fmt.Sprintf("sbs-%d", i),
			Name:       s.Station,
			Operator:   OperatorSBS,
			Directions: convertDirections(s.Directions),
			UpdatedAt:  updated,
		})
	}
	return tt
}

func (t *Timetable) add(s Station) {
	t.byID[s.ID] = len(t.stations)
	t.stations = append(t.stations, s)
}

func convertDirections(raw []rawDirection) []Direction {
	out := make([]Direction, 0, len(raw))
	for _, d := range raw {
		dir := Direction{Description: d.Description}
		for _, day := range dayOrder {
			first, hasFirst := d.FirstTrain[day.key]
			last, hasLast := d.LastTrain[day.key]
			if !hasFirst && !hasLast {
				continue
			}
			dir.Days = append(dir.Days, DayTimes{
				Day:   day.key,
				Label: day.label,
				First: orNoTime(first),
				Last:  orNoTime(last),
			})
		}
		out = append(out, dir)
	}
	return out
}

func lineItems(s rawLineStation) []TimeItem {
	if s.expanded() {
		return []TimeItem{
			{Label: "First (Weekdays)", Kind: "first", Time: orNoTime(To24Hour(s.FirstTrainWeekdays, false))},
			{Label: "First (Saturdays)", Kind: "first", Time: orNoTime(To24Hour(s.FirstTrainSaturdays, false))},
			{Label: "First (Sundays/Holidays)", Kind: "first", Time: orNoTime(To24Hour(s.FirstTrainSundays, false))},
			{Label: "Last (Weekdays)", Kind: "last", Time: orNoTime(To24Hour(s.LastTrainWeekdays, true))},
			{Label: "Last (Weekends/Holidays)", Kind: "last", Time: orNoTime(To24Hour(s.LastTrainWeekends, true))},
		}
	}
	return []TimeItem{
		{Label: "First (Mon-Sat)", Kind: "first", Time: orNoTime(To24Hour(s.FirstTrainWeekdays, false))},
		{Label: "First (Sun/Holidays)", Kind: "first", Time: orNoTime(To24Hour(s.FirstTrainWeekends, false))},
		{Label: "Last Train", Kind: "last", Time: orNoTime(To24Hour(s.LastTrain, true))},
	}
}

// lineName strips the parenthesised suffix of an SBS service title.
func lineName(service string) string {
	name, _, _ := strings.Cut(service, "(")
	return strings.TrimSpace(name)
}

func orNoTime(s string) string {
	if s == "" {
		return noTime
	}
	return s
}

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// To24Hour zero-pads an H:MM time. Last-train times are published on a
// 12-hour clock late in the day, so for them 1-11 gain twelve hours and 12
// becomes 00. Anything that is not H:MM is returned unchanged.
func To24Hour(s string, lastTrain bool) string {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	hour, _ := strconv.Atoi(m[1])
	if lastTrain {
		if hour == 12 {
			hour = 0
		} else if hour < 12 {
			hour += 12
		}
	}
	return fmt.Sprintf("%02d:%s", hour, m[2])
}

// Stations returns every station, SMRT first, in file order.
func (t *Timetable) Stations() []Station {
	return append([]Station(nil), t.stations...)
}

func (t *Timetable) Len() int { return len(t.stations) }

func (t *Timetable) Station(id string) (Station, error) {
	i, ok := t.byID[id]
	if !ok {
		return Station{}, fmt.Errorf("%w: %s", ErrStationNotFound, id)
	}
	return t.stations[i], nil
}

// Search matches query case-insensitively against station names and codes.
// An empty query matches nothing.
func (t *Timetable) Search(query string) []Station {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Station
	for _, s := range t.stations {
		if strings.Contains(strings.ToLower(s.Name), q) ||
			(s.Code != "" && strings.Contains(strings.ToLower(s.Code), q)) {
			out = append(out, s)
		}
	}
	return out
}

// Groups arranges stations for the picker: one SMRT group, then one group per
// SBS line, or a single SBS group when lines are unknown.
func Groups(stations []Station) []Group {
	var groups []Group
	index := map[string]int{}
	for _, s := range stations {
		label := "SMRT"
		if s.Operator == OperatorSBS {
			label = "SBS Transit"
			if s.Line != "" {
				label = "SBST - " + s.Line
			}
		}
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, Group{Label: label})
		}
		groups[i].Stations = append(groups[i].Stations, s)
	}
	return groups
}
