package logic

import (
	"strings"

	"github.com/avct/uasurfer"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

// Client is what the tracker learns from a User-Agent header.
type Client struct {
	Device  string
	Browser string
	OS      string
	Bot     bool
}

// ClassifyDevice maps a User-Agent onto mobile, tablet or desktop. Phone
// markers are checked before tablet markers.
func ClassifyDevice(ua string) string {
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "mobile"), strings.Contains(l, "android"), strings.Contains(l, "iphone"):
		return models.DeviceMobile
	case strings.Contains(l, "tablet"), strings.Contains(l, "ipad"):
		return models.DeviceTablet
	default:
		return models.DeviceDesktop
	}
}

// ClassifyBrowser returns the first of Chrome, Firefox or Safari found in ua.
func ClassifyBrowser(ua string) string {
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "chrome"):
		return "Chrome"
	case strings.Contains(l, "firefox"):
		return "Firefox"
	case strings.Contains(l, "safari"):
		return "Safari"
	default:
		return models.BrowserOther
	}
}

// Classify combines the marker rules with uasurfer's OS and bot detection.
func Classify(ua string) Client {
	c := Client{Device: ClassifyDevice(ua), Browser: ClassifyBrowser(ua)}
	if ua == "" {
		return c
	}
	u := uasurfer.Parse(ua)
	if u.OS.Name != uasurfer.OSUnknown {
		c.OS = strings.TrimPrefix(u.OS.Name.String(), "OS")
	}
	c.Bot = u.IsBot()
	return c
}
