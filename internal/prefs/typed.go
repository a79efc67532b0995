package prefs

// PinnedStop is a bookmarked bus stop. Membership is by BusStopCode.
type PinnedStop struct {
	BusStopCode string  `json:"BusStopCode"`
	Description string  `json:"Description"`
	RoadName    string  `json:"RoadName,omitempty"`
	Distance    float64 `json:"distance,omitempty"`
}

// EnsureDefaults writes the first-visit defaults for keys that are unset.
func (s *Store) EnsureDefaults() {
	if s.Get(KeyTimeFormat) == nil {
		s.Set(KeyTimeFormat, Format24Hour)
	}
	if s.Get(KeyDarkMode) == nil {
		s.Set(KeyDarkMode, DarkModeDisabled)
	}
}

// TimeFormat returns the arrival display format, 24-hour when unset or invalid.
func (s *Store) TimeFormat() string {
	var f string
	if s.GetInto(KeyTimeFormat, &f) && ValidTimeFormat(f) {
		return f
	}
	return Format24Hour
}

// SetTimeFormat stores f and reports whether it was accepted.
func (s *Store) SetTimeFormat(f string) bool {
	if !ValidTimeFormat(f) {
		return false
	}
	s.Set(KeyTimeFormat, f)
	return true
}

// DarkMode returns "enabled" or "disabled".
func (s *Store) DarkMode() string {
	var v string
	if s.GetInto(KeyDarkMode, &v) && v == DarkModeEnabled {
		return DarkModeEnabled
	}
	return DarkModeDisabled
}

func (s *Store) SetDarkMode(enabled bool) {
	if enabled {
		s.Set(KeyDarkMode, DarkModeEnabled)
		return
	}
	s.Set(KeyDarkMode, DarkModeDisabled)
}

// PinnedStops returns the bookmarked stops in the order they were pinned.
func (s *Store) PinnedStops() []PinnedStop {
	var stops []PinnedStop
	s.GetInto(KeyPinnedStops, &stops)
	return stops
}

// IsPinned reports whether code is bookmarked.
func (s *Store) IsPinned(code string) bool {
	for _, p := range s.PinnedStops() {
		if p.BusStopCode == code {
			return true
		}
	}
	return false
}

// TogglePinned pins stop if absent, unpins it otherwise, and returns the new state.
func (s *Store) TogglePinned(stop PinnedStop) bool {
	stops := s.PinnedStops()
	kept := stops[:0]
	found := false
	for _, p := range stops {
		if p.BusStopCode == stop.BusStopCode {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if found {
		s.Set(KeyPinnedStops, kept)
		return false
	}
	s.Set(KeyPinnedStops, append(stops, stop))
	return true
}

// MonitoredServices returns the monitored set for stopCode.
func (s *Store) MonitoredServices(stopCode string) map[string]bool {
	m := map[string]bool{}
	s.GetInto(MonitoredKey(stopCode), &m)
	if m == nil {
		m = map[string]bool{}
	}
	return m
}

// SetMonitored arms or disarms service at stopCode.
func (s *Store) SetMonitored(stopCode, service string, on bool) {
	m := s.MonitoredServices(stopCode)
	if on {
		m[service] = true
	} else {
		delete(m, service)
	}
	s.Set(MonitoredKey(stopCode), m)
}

// NotifiedServices returns the already-notified flags keyed by
// "<service>-nextbus" and "<service>-nextbus2".
func (s *Store) NotifiedServices() map[string]bool {
	m := map[string]bool{}
	s.GetInto(KeyNotifiedServices, &m)
	if m == nil {
		m = map[string]bool{}
	}
	return m
}

// SetNotified sets or clears one notified flag.
func (s *Store) SetNotified(key string, on bool) {
	m := s.NotifiedServices()
	if on {
		m[key] = true
	} else {
		delete(m, key)
	}
	s.Set(KeyNotifiedServices, m)
}

// SetNotifiedServices replaces the notified flags wholesale.
func (s *Store) SetNotifiedServices(m map[string]bool) {
	s.Set(KeyNotifiedServices, m)
}
