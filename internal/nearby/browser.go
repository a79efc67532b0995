package nearby

import (
	"net/url"
	"regexp"
	"strings"
)

// In-app browsers that block geolocation. FBAN/FBAV are the Facebook app tokens.
var (
	inAppBrowserRe = regexp.MustCompile(`(?i)instagram|fban|fbav|\[fb|micromessenger|whatsapp|telegram|line/|viber|tiktok|snapchat`)
	iosRe          = regexp.MustCompile(`iPad|iPhone|iPod`)
)

func IsInAppBrowser(userAgent string) bool {
	return inAppBrowserRe.MatchString(userAgent)
}

// EscapeURL returns a link that reopens pageURL in the system browser: a
// Chrome intent on Android and the safari- scheme on iOS. It returns "" when
// pageURL is empty.
func EscapeURL(pageURL, userAgent string) string {
	if pageURL == "" {
		return ""
	}
	if iosRe.MatchString(userAgent) {
		return "safari-" + pageURL
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(pageURL, "https://"), "http://")
	return "intent://" + rest + "#Intent;scheme=https;package=com.android.chrome;S.browser_fallback_url=" + encodeURIComponent(pageURL) + ";end"
}

func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
