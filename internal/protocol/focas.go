package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"machine_monitor/internal/models"
	"machine_monitor/internal/state"
)

const apiKeyHeader = "X-API-Key"

// Focas reads the JSON served by the FOCAS adapter service. The controller
// itself is never contacted: every machine is addressed through the adapter
// by slug.
type Focas struct {
	host   string
	port   int
	apiKey string
	now    func() time.Time
}

func NewFocas(adapterHost string, adapterPort int, apiKey string) *Focas {
	return &Focas{host: adapterHost, port: adapterPort, apiKey: apiKey, now: time.Now}
}

func (a *Focas) Protocol() models.ConnectionType { return models.ConnectionFocas }

func (a *Focas) Endpoint(m models.Machine) string {
	return fmt.Sprintf("http://%s:%d/api/machines/%s", a.host, a.port, url.PathEscape(m.Slug))
}

func (a *Focas) Headers() map[string]string {
	h := noCacheHeaders()
	if a.apiKey != "" {
		h[apiKeyHeader] = a.apiKey
	}
	return h
}

// ResetEndpoint is the adapter action that drops and reopens its controller
// sessions.
func (a *Focas) ResetEndpoint() string {
	return fmt.Sprintf("http://%s:%d/api/reset", a.host, a.port)
}

func (a *Focas) ResetHeaders() map[string]string {
	h := a.Headers()
	h["Content-Type"] = "application/json"
	return h
}

func (a *Focas) DetermineState(current *models.Telemetry, _ *models.Snapshot) models.MachineState {
	return state.Focas(current)
}

type focasPayload struct {
	Execution    string      `json:"execution"`
	Controller   string      `json:"controller"`
	Program      string      `json:"program"`
	Tool         flexString  `json:"tool"`
	SpindleSpeed flexFloat   `json:"spindleSpeed"`
	FeedRate     flexFloat   `json:"feedRate"`
	AxisX        flexFloat   `json:"axisX"`
	AxisY        flexFloat   `json:"axisY"`
	AxisZ        flexFloat   `json:"axisZ"`
	Alarm        flexString  `json:"alarm"`
	Data         *focasInner `json:"data,omitempty"`
}

// focasInner breaks the recursion of the {"data": {...}} envelope.
type focasInner focasPayload

// Parse decodes an adapter response. A payload that is itself a JSON string
// is decoded twice. Invalid JSON yields nil.
func (a *Focas) Parse(raw []byte) *models.Telemetry {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil
		}
		raw = bytes.TrimSpace([]byte(inner))
		if len(raw) == 0 || raw[0] != '{' {
			return nil
		}
	}

	var p focasPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Data != nil && p.Execution == "" {
		p = focasPayload(*p.Data)
	}

	return &models.Telemetry{
		Execution:  p.Execution,
		Controller: p.Controller,
		Program:    p.Program,
		Tool:       string(p.Tool),
		Metrics: models.Metrics{
			SpindleSpeed: float64(p.SpindleSpeed),
			FeedRate:     float64(p.FeedRate),
			AxisPositions: models.AxisPositions{
				X: float64(p.AxisX),
				Y: float64(p.AxisY),
				Z: float64(p.AxisZ),
			},
		},
		Alarm:     string(p.Alarm),
		Timestamp: a.now(),
	}
}

// flexFloat accepts 12.5, "12.5" and null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexFloat(parseNumber(s))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts strings and numbers (tool ids arrive as both).
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}
