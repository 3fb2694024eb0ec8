// Package config loads and validates the JSON suite configuration: the
// command template, diversion rules, and the input/output modification
// pipelines.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	fractureerrors "github.com/tturner/fracture/internal/errors"
)

// NFRule is one diversion rule descriptor from the nfrules array.
type NFRule struct {
	OutputChain bool   `json:"output_chain"`
	InputChain  bool   `json:"input_chain"`
	Proto       string `json:"proto,omitempty"`
	Host        string `json:"host,omitempty"`
	Host6       string `json:"host6,omitempty"`
	Port        string `json:"port,omitempty"`
	IPv4        bool   `json:"ipv4"`
	IPv6        bool   `json:"ipv6"`
	QNum        int    `json:"qnum"`
}

// ModDescriptor is one modification descriptor in an input/output pipeline.
type ModDescriptor struct {
	ModName  string      `json:"mod_name"`
	ModOpts  interface{} `json:"mod_opts,omitempty"`
	Optional bool        `json:"optional"`
}

// Config is the top-level suite configuration.
type Config struct {
	Cmd     string          `json:"cmd"`
	NFRules []NFRule        `json:"nfrules"`
	Input   []ModDescriptor `json:"input"`
	Output  []ModDescriptor `json:"output"`
}

// rawNFRule mirrors NFRule with pointer bools so Load can distinguish an
// absent field (apply the documented default) from an explicit false.
type rawNFRule struct {
	OutputChain *bool  `json:"output_chain"`
	InputChain  *bool  `json:"input_chain"`
	Proto       string `json:"proto"`
	Host        string `json:"host"`
	Host6       string `json:"host6"`
	Port        string `json:"port"`
	IPv4        *bool  `json:"ipv4"`
	IPv6        *bool  `json:"ipv6"`
	QNum        *int   `json:"qnum"`
}

type rawConfig struct {
	Cmd     string          `json:"cmd"`
	NFRules []rawNFRule     `json:"nfrules"`
	Input   []ModDescriptor `json:"input"`
	Output  []ModDescriptor `json:"output"`
}

func boolDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Load reads and validates a configuration file's structural shape (field
// presence, qnum requiredness, default application). Semantic validation
// (modification names, mod_opts parseability) is the plan expander's job,
// since it needs a populated registry to resolve names.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fractureerrors.NewConfigError(err, path)
	}
	defer f.Close()
	return decode(f, path)
}

func decode(r io.Reader, path string) (*Config, error) {
	var raw rawConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fractureerrors.NewConfigError(err, path)
	}
	if raw.Cmd == "" {
		return nil, fractureerrors.NewConfigError(fmt.Errorf("cmd is required"), path)
	}
	if len(raw.NFRules) == 0 {
		return nil, fractureerrors.NewConfigError(fmt.Errorf("nfrules must contain at least one entry"), path)
	}

	cfg := &Config{Cmd: raw.Cmd, Input: raw.Input, Output: raw.Output}
	seenQNum := map[bool]map[int]bool{true: {}, false: {}} // keyed by isInput
	for i, rr := range raw.NFRules {
		if rr.QNum == nil {
			return nil, fractureerrors.NewConfigError(fmt.Errorf("nfrules[%d]: qnum is required", i), path)
		}
		if *rr.QNum%2 != 0 {
			return nil, fractureerrors.NewConfigError(fmt.Errorf("nfrules[%d]: qnum %d must be even", i, *rr.QNum), path)
		}
		rule := NFRule{
			OutputChain: boolDefault(rr.OutputChain, true),
			InputChain:  boolDefault(rr.InputChain, true),
			Proto:       rr.Proto,
			Host:        rr.Host,
			Host6:       rr.Host6,
			Port:        rr.Port,
			IPv4:        boolDefault(rr.IPv4, true),
			IPv6:        boolDefault(rr.IPv6, true),
			QNum:        *rr.QNum,
		}
		if rule.OutputChain {
			if seenQNum[false][rule.QNum] {
				return nil, fractureerrors.NewConfigError(fmt.Errorf("nfrules[%d]: duplicate output qnum %d", i, rule.QNum), path)
			}
			seenQNum[false][rule.QNum] = true
		}
		if rule.InputChain {
			if seenQNum[true][rule.QNum+1] {
				return nil, fractureerrors.NewConfigError(fmt.Errorf("nfrules[%d]: duplicate input qnum %d", i, rule.QNum+1), path)
			}
			seenQNum[true][rule.QNum+1] = true
		}
		cfg.NFRules = append(cfg.NFRules, rule)
	}
	return cfg, nil
}
