// Package config loads and validates kernel configuration: the JSON
// connection file a front-end hands to the kernel at startup, and the
// optional TOML options file controlling embedder-facing policy.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/c360/kernelkit/errors"
)

// ConnectionInfo is the parsed connection file. It names the transport,
// the bind address, one port per channel, and the shared authentication
// key all channels sign with.
type ConnectionInfo struct {
	Transport       string `json:"transport"`
	IP              string `json:"ip"`
	ShellPort       int    `json:"shell_port"`
	ControlPort     int    `json:"control_port"`
	StdinPort       int    `json:"stdin_port"`
	IOPubPort       int    `json:"iopub_port"`
	HeartbeatPort   int    `json:"hb_port"`
	Key             string `json:"key"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// LoadConnection reads and validates a connection file.
func LoadConnection(path string) (ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConnectionInfo{}, errors.WrapFatal(err, "config", "LoadConnection", "file read")
	}

	var ci ConnectionInfo
	if err := json.Unmarshal(data, &ci); err != nil {
		return ConnectionInfo{}, errors.WrapInvalid(err, "config", "LoadConnection", "JSON parse")
	}

	if err := ci.Validate(); err != nil {
		return ConnectionInfo{}, err
	}
	return ci, nil
}

// Validate checks the connection info for completeness. The key may be
// empty, which disables envelope signing.
func (ci ConnectionInfo) Validate() error {
	if ci.Transport == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ConnectionInfo", "Validate", "transport check")
	}
	if ci.IP == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ConnectionInfo", "Validate", "ip check")
	}

	ports := map[string]int{
		"shell":   ci.ShellPort,
		"control": ci.ControlPort,
		"stdin":   ci.StdinPort,
		"iopub":   ci.IOPubPort,
		"hb":      ci.HeartbeatPort,
	}
	seen := make(map[int]string, len(ports))
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			return errors.WrapInvalid(
				fmt.Errorf("%s port %d out of range", name, port),
				"ConnectionInfo", "Validate", "port check")
		}
		if other, dup := seen[port]; dup {
			return errors.WrapInvalid(
				fmt.Errorf("%s and %s share port %d", name, other, port),
				"ConnectionInfo", "Validate", "port uniqueness check")
		}
		seen[port] = name
	}
	return nil
}

// Endpoint builds the ZeroMQ endpoint for one channel port. The inproc
// transport has no port concept, so the port becomes part of the name;
// this keeps in-process tests on the same code path as tcp.
func (ci ConnectionInfo) Endpoint(port int) string {
	if ci.Transport == "inproc" {
		return fmt.Sprintf("inproc://%s-%d", ci.IP, port)
	}
	return fmt.Sprintf("%s://%s:%d", ci.Transport, ci.IP, port)
}
