// Package useragent classifies user-agent strings into device type, browser
// and operating system. Two classifiers are provided: Classify, the cheap
// substring heuristic the client driver uses, and Detect, a regex rule set
// the server falls back to when a start signal carries no device fields.
package useragent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Canonical device types.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

const unknown = "Unknown"

// Info is the classification result for one user-agent string.
type Info struct {
	DeviceType      string
	Browser         string
	OperatingSystem string
}

//go:embed rules.yml
var rulesFS embed.FS

type browserRule struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

type osRule struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

type deviceRule struct {
	Regex string `yaml:"regex"`
	Type  string `yaml:"type"`
}

type ruleSet struct {
	Browsers []browserRule `yaml:"browsers"`
	OSs      []osRule      `yaml:"oss"`
	Devices  []deviceRule  `yaml:"devices"`
}

// regexCache compiles patterns lazily and reuses them across lookups.
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*pcre.Regexp)}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	rules     ruleSet
	rulesOnce sync.Once
	cache     = newRegexCache()
)

func loadRules() ruleSet {
	rulesOnce.Do(func() {
		data, err := rulesFS.ReadFile("rules.yml")
		if err != nil {
			return
		}
		_ = yaml.Unmarshal(data, &rules)
	})
	return rules
}

// Detect classifies a user-agent string with the embedded regex rule set.
// Rules are tried in order; the first match wins. Anything the rules cannot
// place falls back to the substring heuristic.
func Detect(ua string) Info {
	if strings.TrimSpace(ua) == "" {
		return Info{DeviceType: DeviceDesktop, Browser: unknown, OperatingSystem: unknown}
	}

	rs := loadRules()
	info := Info{DeviceType: DeviceDesktop, Browser: unknown, OperatingSystem: unknown}

	for _, rule := range rs.Browsers {
		if matches(rule.Regex, ua) {
			info.Browser = rule.Name
			break
		}
	}
	for _, rule := range rs.OSs {
		if matches(rule.Regex, ua) {
			info.OperatingSystem = rule.Name
			break
		}
	}
	for _, rule := range rs.Devices {
		if matches(rule.Regex, ua) {
			info.DeviceType = rule.Type
			break
		}
	}

	if info.Browser == unknown || info.OperatingSystem == unknown {
		heuristic := Classify(ua)
		if info.Browser == unknown {
			info.Browser = heuristic.Browser
		}
		if info.OperatingSystem == unknown {
			info.OperatingSystem = heuristic.OperatingSystem
		}
	}

	return info
}

func matches(pattern, ua string) bool {
	regex, err := cache.get(pattern)
	if err != nil {
		return false
	}
	return regex.MatchString(ua)
}

// Classify derives device type, browser and OS from a user-agent string using
// plain substring heuristics. This is the classifier the client session
// driver runs; it trades accuracy for zero dependencies on rule data.
func Classify(ua string) Info {
	info := Info{
		DeviceType:      DeviceDesktop,
		Browser:         unknown,
		OperatingSystem: unknown,
	}
	if ua == "" {
		return info
	}

	// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
	switch {
	case strings.Contains(ua, "Edg"):
		info.Browser = "Edge"
	case strings.Contains(ua, "OPR") || strings.Contains(ua, "Opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "SamsungBrowser"):
		info.Browser = "Samsung Internet"
	case strings.Contains(ua, "Firefox") || strings.Contains(ua, "FxiOS"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "Chrome") || strings.Contains(ua, "CriOS"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "Safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "Windows"):
		info.OperatingSystem = "Windows"
	case strings.Contains(ua, "Android"):
		info.OperatingSystem = "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iPod"):
		info.OperatingSystem = "iOS"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		info.OperatingSystem = "macOS"
	case strings.Contains(ua, "CrOS"):
		info.OperatingSystem = "ChromeOS"
	case strings.Contains(ua, "Linux"):
		info.OperatingSystem = "Linux"
	}

	switch {
	case strings.Contains(ua, "iPad"),
		strings.Contains(ua, "Tablet"),
		strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile"):
		info.DeviceType = DeviceTablet
	case strings.Contains(ua, "Mobi"),
		strings.Contains(ua, "iPhone"),
		strings.Contains(ua, "Windows Phone"):
		info.DeviceType = DeviceMobile
	}

	return info
}
