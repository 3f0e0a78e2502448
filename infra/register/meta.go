// Package register publishes a started server's presence to an external
// registry. The server core only depends on the ServiceRegister interface.
package register

import (
	"encoding/json"
	"fmt"
)

// Meta is one registrable record.
type Meta interface {
	RegisterKey() string
	Value() string
}

// ServiceRegister collects records and keeps them published until Close.
type ServiceRegister interface {
	Append(meta Meta) error
	Register() error
	DeRegister() error
	Close()
}

// MethodInfo carries one method's streaming shape.
type MethodInfo struct {
	Name         string `json:"name"`
	ClientStream bool   `json:"client_stream"`
	ServerStream bool   `json:"server_stream"`
}

// NodeMeta describes one service on one bound address.
type NodeMeta struct {
	ServiceName  string       `json:"service_name"`
	Host         string       `json:"host"`
	Port         int          `json:"port"`
	Methods      []MethodInfo `json:"methods"`
	Runtime      string       `json:"runtime"`
	Version      string       `json:"version"`
	RegisterTime int64        `json:"register_time"`
}

func (n NodeMeta) RegisterKey() string {
	return fmt.Sprintf("%s/node/%s:%d", n.ServiceName, n.Host, n.Port)
}

func (n NodeMeta) Value() string {
	raw, _ := json.Marshal(n)
	return string(raw)
}
