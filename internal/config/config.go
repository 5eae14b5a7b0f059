// Package config loads the agent configuration.
//
// A configuration file is CUE. It is unified with the embedded schema,
// which fills defaults and rejects unknown fields, then decoded into
// Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/orchd/internal/device/sim"
)

//go:embed schema.cue
var schemaSource []byte

// Error codes.
const (
	ErrCodeNotFound = "E201" // file missing or unreadable
	ErrCodeParse    = "E202" // CUE syntax error
	ErrCodeInvalid  = "E203" // schema violation
	ErrCodeDecode   = "E204" // value does not fit Config
)

// LoadError describes a configuration that could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLoadError reports whether err is a *LoadError with the given code.
func IsLoadError(err error, code string) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Code == code
}

// Config is the agent configuration.
type Config struct {
	Store      StoreConfig      `json:"store"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Device     DeviceConfig     `json:"device"`
	HostIf     HostIfConfig     `json:"hostif"`
	Metrics    MetricsConfig    `json:"metrics"`
	Port       PortConfig       `json:"port"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

type DispatcherConfig struct {
	PollInterval      string   `json:"poll_interval"`
	IdleInterval      string   `json:"idle_interval"`
	BatchSize         int      `json:"batch_size"`
	BootstrapPriority []string `json:"bootstrap_priority"`

	// Poll and Idle are PollInterval and IdleInterval parsed.
	Poll time.Duration `json:"-"`
	Idle time.Duration `json:"-"`
}

type DeviceConfig struct {
	Backend string    `json:"backend"`
	Sim     SimConfig `json:"sim"`
}

// SimConfig shapes the simulated device.
type SimConfig struct {
	Ports                  int      `json:"ports"`
	LanesPerPort           int      `json:"lanes_per_port"`
	PortSpeed              uint32   `json:"port_speed"`
	LinkFollowsAdmin       bool     `json:"link_follows_admin"`
	AutoNeg                bool     `json:"autoneg"`
	LinkTraining           bool     `json:"link_training"`
	FECModes               []string `json:"fec_modes"`
	Speeds                 []uint32 `json:"speeds"`
	InterfaceTypes         []string `json:"interface_types"`
	QueuesPerPort          int      `json:"queues_per_port"`
	PriorityGroupsPerPort  int      `json:"priority_groups_per_port"`
	SchedulerGroupsPerPort int      `json:"scheduler_groups_per_port"`
}

type HostIfConfig struct {
	Backend string `json:"backend"`
}

type MetricsConfig struct {
	Listen string `json:"listen"`
}

type PortConfig struct {
	DefaultMTU int `json:"default_mtu"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	return Parse(path, data)
}

// Parse validates data, naming it filename in positions.
func Parse(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, newLoadError(ErrCodeParse, err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, newLoadError(ErrCodeInvalid, err)
	}

	var cfg Config
	err := v.Decode(&cfg)
	if err != nil {
		return nil, newLoadError(ErrCodeDecode, err)
	}
	if cfg.Dispatcher.Poll, err = time.ParseDuration(cfg.Dispatcher.PollInterval); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("dispatcher.poll_interval: %v", err)}
	}
	if cfg.Dispatcher.Idle, err = time.ParseDuration(cfg.Dispatcher.IdleInterval); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("dispatcher.idle_interval: %v", err)}
	}
	return &cfg, nil
}

// Default returns the configuration an empty file produces.
func Default() *Config {
	cfg, err := Parse("default.cue", nil)
	if err != nil {
		panic(fmt.Sprintf("config: default configuration invalid: %v", err))
	}
	return cfg
}

// SimDevice returns the simulator configuration described by c.
func (c SimConfig) SimDevice() sim.Config {
	cfg := sim.Config{
		Capabilities: sim.Capabilities{
			AutoNeg:                c.AutoNeg,
			LinkTraining:           c.LinkTraining,
			FECModes:               c.FECModes,
			Speeds:                 c.Speeds,
			InterfaceTypes:         c.InterfaceTypes,
			QueuesPerPort:          c.QueuesPerPort,
			PriorityGroupsPerPort:  c.PriorityGroupsPerPort,
			SchedulerGroupsPerPort: c.SchedulerGroupsPerPort,
		},
		LinkFollowsAdmin:   c.LinkFollowsAdmin,
		NotificationBuffer: 256,
	}
	for i := range c.Ports {
		lanes := make([]uint32, c.LanesPerPort)
		for j := range lanes {
			lanes[j] = uint32(i*c.LanesPerPort + j)
		}
		cfg.Ports = append(cfg.Ports, sim.HardwarePort{Lanes: lanes, Speed: c.PortSpeed})
	}
	return cfg
}

func newLoadError(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return &LoadError{Code: code, Message: strings.Join(msgs, "; "), Pos: errs[0].Position()}
}
