package protocol

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"machine_monitor/internal/models"
	"machine_monitor/internal/state"
)

// Data item ids exposed by the shop's MTConnect agents.
const (
	itemAvailability = "avail"
	itemProgram      = "pgm"
	itemComment      = "pcmt"
	itemTool         = "tid"
	itemExecution    = "exec"
	itemMode         = "mode"
	itemSpindleSpeed = "cs"
	itemFeedRate     = "pf"
	itemX            = "xp"
	itemY            = "yp"
	itemZ            = "zp"
	itemAlarm        = "alarm"
)

var (
	itemPatterns   sync.Map // data item id -> *regexp.Regexp
	markupChars    = regexp.MustCompile(`[&<>]`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// MTConnect reads the flat /current document of an MTConnect agent.
type MTConnect struct {
	now func() time.Time
}

func NewMTConnect() *MTConnect {
	return &MTConnect{now: time.Now}
}

func (a *MTConnect) Protocol() models.ConnectionType { return models.ConnectionMTConnect }

func (a *MTConnect) Endpoint(m models.Machine) string {
	return fmt.Sprintf("http://%s/current", m.Address())
}

func (a *MTConnect) Headers() map[string]string { return noCacheHeaders() }

func (a *MTConnect) DetermineState(current *models.Telemetry, previous *models.Snapshot) models.MachineState {
	return state.MTConnect(current, previous)
}

// Parse extracts the known data items. Missing items default to "" or 0.
func (a *MTConnect) Parse(raw []byte) *models.Telemetry {
	doc := string(raw)
	if strings.TrimSpace(doc) == "" {
		return nil
	}

	program := extractItem(doc, itemProgram)
	if comment := cleanComment(extractItem(doc, itemComment)); comment != "" {
		program = program + " - " + comment
	}

	return &models.Telemetry{
		Execution:  extractItem(doc, itemExecution),
		Controller: extractItem(doc, itemMode),
		Program:    program,
		Tool:       extractItem(doc, itemTool),
		Metrics: models.Metrics{
			SpindleSpeed: extractFloat(doc, itemSpindleSpeed),
			FeedRate:     extractFloat(doc, itemFeedRate),
			AxisPositions: models.AxisPositions{
				X: extractFloat(doc, itemX),
				Y: extractFloat(doc, itemY),
				Z: extractFloat(doc, itemZ),
			},
		},
		Alarm:        extractItem(doc, itemAlarm),
		Availability: extractItem(doc, itemAvailability),
		Timestamp:    a.now(),
	}
}

func itemPattern(id string) *regexp.Regexp {
	if re, ok := itemPatterns.Load(id); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`<[^>]*dataItemId="` + regexp.QuoteMeta(id) + `"[^>]*>([^<]*)</[^>]*>`)
	itemPatterns.Store(id, re)
	return re
}

// extractItem returns the text of the first element carrying dataItemId=id.
func extractItem(doc, id string) string {
	m := itemPattern(id).FindStringSubmatch(doc)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func extractFloat(doc, id string) float64 {
	return parseNumber(extractItem(doc, id))
}

// parseNumber accepts a leading numeric prefix ("12.5rpm" -> 12.5) and
// returns 0 for anything unusable, including agent UNAVAILABLE markers.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	end := 0
	for end < len(s) && strings.IndexByte("+-.0123456789eE", s[end]) >= 0 {
		end++
	}
	for end > 0 {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return f
		}
		end--
	}
	return 0
}

func cleanComment(comment string) string {
	comment = strings.ReplaceAll(comment, "&quot;", `"`)
	comment = markupChars.ReplaceAllString(comment, "")
	comment = whitespaceRuns.ReplaceAllString(comment, " ")
	return strings.TrimSpace(comment)
}
