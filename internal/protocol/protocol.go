package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wharfworks/wharfd/internal/pipeline"
)

// A command name carried in a message envelope.
type Command string

const (
	CmdBuild    Command = "build"    // Execute a pipeline.
	CmdStatus   Command = "status"   // Query daemon status.
	CmdShutdown Command = "shutdown" // Stop the daemon.

	CmdOK    Command = "ok"    // Successful response.
	CmdError Command = "error" // Failed response.
)

var ErrDecode = errors.New("protocol decode failed")

// Wraps a command and its payload for transport.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Asks the daemon to execute a pipeline.
type BuildRequest struct {
	Pipeline *pipeline.Pipeline `json:"pipeline"`           // Pipeline to execute. Must be pre-validated by the client.
	Name     string             `json:"name"`               // Build name for container IDs and staging directories.
	Output   string             `json:"output"`             // Directory the image archive is written to.
	Platform string             `json:"platform,omitempty"` // Target platform override.
}

// Reports a completed build.
type BuildResult struct {
	Output string `json:"output"` // Directory containing the exported image.
	Commit string `json:"commit"` // Source commit the binary was built from.
}

// Reports daemon status.
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
}

// Carries an error message back to the client.
type ErrorResult struct {
	Message string `json:"message"`
}

// Serializes a command and payload into a JSON envelope.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		env.Payload = data
	}

	return json.Marshal(env)
}

// Parses a JSON envelope, returning the envelope and its raw payload.
func Decode(data []byte) (Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if env.Command == "" {
		return Envelope{}, nil, fmt.Errorf("%w: missing command", ErrDecode)
	}
	return env, env.Payload, nil
}

// Parses a raw payload into a typed request or result.
func DecodePayload[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrDecode)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &v, nil
}
