package prefs

import "strings"

// Preference keys. The names are shared with exported backup files.
const (
	KeyTimeFormat        = "timeFormat"
	KeyDarkMode          = "dark-mode"
	KeyPinnedStops       = "bookmarkedBusStops"
	KeyAllBusStops       = "allBusStops"
	KeyMonitoredServices = "notif_monitoredServices"
	KeyNotifiedServices  = "notif_notifiedServices"
	KeyNotificationQueue = "notification_queue"

	// MonitoredServicesPrefix scopes a monitored set to one stop:
	// notif_monitoredServices_<stopCode>.
	MonitoredServicesPrefix = "notif_monitoredServices_"
)

// Time formats.
const (
	FormatMinutes = "mins"
	Format24Hour  = "24-hour"
	Format12Hour  = "12-hour"
)

const (
	DarkModeEnabled  = "enabled"
	DarkModeDisabled = "disabled"
)

var exportKeys = []string{
	KeyDarkMode,
	KeyTimeFormat,
	KeyPinnedStops,
	KeyAllBusStops,
	KeyMonitoredServices,
	KeyNotifiedServices,
}

var dynamicExportPrefixes = []string{MonitoredServicesPrefix}

// IsExportable reports whether key may appear in a backup bundle.
func IsExportable(key string) bool {
	for _, k := range exportKeys {
		if k == key {
			return true
		}
	}
	for _, p := range dynamicExportPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// ValidTimeFormat reports whether f is one of the supported formats.
func ValidTimeFormat(f string) bool {
	return f == FormatMinutes || f == Format24Hour || f == Format12Hour
}

// MonitoredKey returns the key holding the monitored set for stopCode.
// An empty stop code selects the profile-wide set.
func MonitoredKey(stopCode string) string {
	if stopCode == "" {
		return KeyMonitoredServices
	}
	return MonitoredServicesPrefix + stopCode
}
