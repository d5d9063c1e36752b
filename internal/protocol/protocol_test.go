package protocol

import (
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(CmdBuild, &BuildRequest{Name: "factory", Output: "dist"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, payload, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Command != CmdBuild {
		t.Fatalf("command = %q, want %q", env.Command, CmdBuild)
	}

	req, err := DecodePayload[BuildRequest](payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if req.Name != "factory" || req.Output != "dist" {
		t.Fatalf("request = %+v", req)
	}
}

func TestEncodeNilPayload(t *testing.T) {
	data, err := Encode(CmdShutdown, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, payload, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Command != CmdShutdown {
		t.Fatalf("command = %q", env.Command)
	}
	if len(payload) != 0 {
		t.Fatalf("payload = %q, want empty", payload)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "not json"},
		{"missing command", `{"payload":{}}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode([]byte(tt.input)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestDecodePayloadMissing(t *testing.T) {
	if _, err := DecodePayload[BuildRequest](nil); err == nil {
		t.Fatal("expected error for missing payload")
	}
}
