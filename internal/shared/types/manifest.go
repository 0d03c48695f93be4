package types

import (
	"encoding/json"
	"fmt"
)

// PackageManifest describes one process bundled in a package archive.
// A package's manifest file is a JSON array of these entries.
type PackageManifest struct {
	ProcessName         string       `json:"process_name"`
	ProcessWasmPath     string       `json:"process_wasm_path"`
	OnExit              string       `json:"on_exit"`
	RequestNetworking   bool         `json:"request_networking"`
	RequestCapabilities []Capability `json:"request_capabilities"`
	GrantCapabilities   []Capability `json:"grant_capabilities"`
	Public              bool         `json:"public"`
}

// Capability is a permission a process requests or grants. The wire
// form is either a bare process string or an object carrying issuer
// parameters as raw JSON text.
type Capability struct {
	Process string
	Params  string
}

// MarshalJSON emits the bare string form when no params are set.
func (c Capability) MarshalJSON() ([]byte, error) {
	if c.Params == "" {
		return json.Marshal(c.Process)
	}
	return json.Marshal(struct {
		Process string `json:"process"`
		Params  string `json:"params"`
	}{c.Process, c.Params})
}

// UnmarshalJSON accepts both the bare string and the object form.
func (c *Capability) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Process, c.Params = s, ""
		return nil
	}
	var obj struct {
		Process string `json:"process"`
		Params  string `json:"params"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid capability %s", data)
	}
	if obj.Process == "" {
		return fmt.Errorf("capability missing process: %s", data)
	}
	c.Process, c.Params = obj.Process, obj.Params
	return nil
}

// String renders the capability for display and approval prompts.
func (c Capability) String() string {
	if c.Params == "" {
		return c.Process
	}
	return c.Process + " " + c.Params
}
