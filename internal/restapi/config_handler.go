package restapi

import (
	"net/http"
	"runtime/debug"

	"buszy.nrfz.sg/internal/models"
	"buszy.nrfz.sg/internal/nearby"
	"buszy.nrfz.sg/internal/notify"
)

func buildProperties() models.BuildProperties {
	props := models.BuildProperties{Version: "devel", Revision: "unknown", Abbrev: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return props
	}
	props.GoVersion = info.GoVersion
	if v := info.Main.Version; v != "" && v != "(devel)" {
		props.Version = v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			props.Revision = s.Value
			if len(s.Value) >= 7 {
				props.Abbrev = s.Value[:7]
			}
		case "vcs.time":
			props.CommitAt = s.Value
		case "vcs.modified":
			props.Dirty = s.Value
		}
	}
	return props
}

func (api *RestAPI) configHandler(w http.ResponseWriter, r *http.Request) {
	configEntry := models.ConfigModel{
		BuildProperties: buildProperties(),
		Id:              "buszy",
		Name:            "Buszy",
		Env:             api.Config.Env.String(),
		PollIntervalMs:  api.Config.PollInterval.Milliseconds(),
		DebounceMs:      api.Config.Debounce.Milliseconds(),
		NearbyRadiusKm:  nearby.RadiusKm,
		ErrorCooldownMs: notify.DefaultErrorCooldown.Milliseconds(),
	}
	api.sendEntry(w, r, configEntry)
}

// currentTimeHandler lets a page line its countdowns up with the server
// clock, which also drives arrival polling.
func (api *RestAPI) currentTimeHandler(w http.ResponseWriter, r *http.Request) {
	api.sendEntry(w, r, models.NewCurrentTimeData(api.Clock.Now()))
}
