package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/stackcheck/internal/errs"
)

// Override changes addressing or timing of one service. Mechanisms are not overridable.
type Override struct {
	Port         *int           `yaml:"port"`
	LoopbackOnly *bool          `yaml:"loopback_only"`
	VirtualHost  *string        `yaml:"virtual_host"`
	Landing      *string        `yaml:"landing"`
	Timeout      *time.Duration `yaml:"timeout"`
	Settle       *time.Duration `yaml:"settle"`
}

// OverrideFile is the on-disk shape of STACKCHECK_SERVICES_FILE.
//
//	services:
//	  seerr:
//	    loopback_only: false
//	    port: 5056
type OverrideFile struct {
	Services map[string]Override `yaml:"services"`
}

// LoadOverrides reads an override file. A missing path yields no overrides.
func LoadOverrides(path string) (map[string]Override, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "read services file", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides decodes override YAML, rejecting unknown fields.
func ParseOverrides(data []byte) (map[string]Override, error) {
	var file OverrideFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, errs.Wrap(errs.InvalidArgument, "parse services file", err)
	}
	return file.Services, nil
}

// ApplyOverrides returns a copy of services with overrides applied. Overrides naming
// unknown services are configuration errors.
func ApplyOverrides(services []Service, overrides map[string]Override) ([]Service, error) {
	out := make([]Service, len(services))
	copy(out, services)
	index := make(map[string]int, len(out))
	for i, svc := range out {
		index[svc.Name] = i
	}
	for name, o := range overrides {
		i, ok := index[name]
		if !ok {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("services file: unknown service %q", name))
		}
		svc := &out[i]
		if o.Port != nil {
			svc.Port = *o.Port
		}
		if o.LoopbackOnly != nil {
			svc.LoopbackOnly = *o.LoopbackOnly
		}
		if o.VirtualHost != nil {
			svc.VirtualHost = *o.VirtualHost
		}
		if o.Landing != nil {
			svc.Landing = *o.Landing
		}
		if o.Timeout != nil {
			svc.Timeout = *o.Timeout
		}
		if o.Settle != nil {
			svc.Stabilize.Settle = *o.Settle
		}
	}
	return out, nil
}

// Load builds the default registry for targetHost with the override file at path applied.
func Load(targetHost, path string) (*Registry, error) {
	overrides, err := LoadOverrides(path)
	if err != nil {
		return nil, err
	}
	services, err := ApplyOverrides(DefaultServices(), overrides)
	if err != nil {
		return nil, err
	}
	return New(targetHost, services)
}
