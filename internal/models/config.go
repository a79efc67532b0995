package models

// BuildProperties describes the running binary.
type BuildProperties struct {
	Version   string `json:"build.version"`
	Revision  string `json:"vcs.revision"`
	Abbrev    string `json:"vcs.revision.abbrev"`
	CommitAt  string `json:"vcs.time"`
	Dirty     string `json:"vcs.modified"`
	GoVersion string `json:"go.version"`
}

// ConfigModel is what a page needs to know about the service before it
// opens a session.
type ConfigModel struct {
	BuildProperties BuildProperties `json:"buildProperties"`
	Id              string          `json:"id"`
	Name            string          `json:"name"`
	Env             string          `json:"env"`
	PollIntervalMs  int64           `json:"pollIntervalMs"`
	DebounceMs      int64           `json:"debounceMs"`
	NearbyRadiusKm  float64         `json:"nearbyRadiusKm"`
	ErrorCooldownMs int64           `json:"errorCooldownMs"`
}
