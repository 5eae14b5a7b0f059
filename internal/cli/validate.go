package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/orchd/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Path   string `json:"path"`
	Device string `json:"device,omitempty"`
	Ports  int    `json:"ports,omitempty"`
}

func (r ValidationResult) String() string {
	return "Config is valid: " + r.Path
}

// ValidateDetails locates a validation error.
type ValidateDetails struct {
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate an agent config",
		Long: `Validate an agent config against the configuration schema without
starting the agent.

Exit codes:
  0 - Config is valid
  1 - Config is invalid`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		var le *config.LoadError
		if !errors.As(err, &le) {
			return WrapExitError(ExitCommandError, "failed to validate config", err)
		}
		var details any
		if le.Pos.IsValid() {
			details = &ValidateDetails{Line: le.Pos.Line(), Column: le.Pos.Column()}
		}
		if err := formatter.Error(le.Code, le.Message, details); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "config is invalid")
	}

	formatter.VerboseLog("store %s, device %s with %d ports", cfg.Store.Path, cfg.Device.Backend, cfg.Device.Sim.Ports)
	return formatter.Success(ValidationResult{
		Valid:  true,
		Path:   path,
		Device: cfg.Device.Backend,
		Ports:  cfg.Device.Sim.Ports,
	})
}
