package models

import (
	"strconv"
	"time"
)

// ConnectionType names the protocol a machine speaks.
type ConnectionType string

const (
	ConnectionMTConnect ConnectionType = "MTCONNECT"
	ConnectionFocas     ConnectionType = "FOCAS"
)

// Machine is a registry entry. The engine never mutates it.
type Machine struct {
	ID             string         `json:"id" yaml:"id"`
	Slug           string         `json:"slug" yaml:"slug"`
	Name           string         `json:"name" yaml:"name"`
	Type           string         `json:"type" yaml:"type"`
	ConnectionType ConnectionType `json:"connection_type" yaml:"connection_type"`
	ConnectionHost string         `json:"connection_host" yaml:"connection_host"`
	ConnectionPort int            `json:"connection_port" yaml:"connection_port"`
	Enabled        bool           `json:"enabled" yaml:"enabled"`
}

// Address returns host:port of the machine agent.
func (m Machine) Address() string {
	return m.ConnectionHost + ":" + strconv.Itoa(m.ConnectionPort)
}

// MachineStatus is one row of the live-state array pushed after every tick.
type MachineStatus struct {
	MachineID   string       `json:"machine_id"`
	MachineName string       `json:"machine_name"`
	MachineType string       `json:"machine_type"`
	State       MachineState `json:"state"`
	Telemetry   *Telemetry   `json:"telemetry"`
	Timestamp   time.Time    `json:"timestamp"`
}
