package registration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Mode selects the registration transform.
type Mode string

const (
	None   Mode = "none"
	Rigid  Mode = "rigid"
	Affine Mode = "affine"
)

// ParseMode accepts none, rigid and affine in any case. The empty string is none.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", None:
		return None, nil
	case Rigid:
		return Rigid, nil
	case Affine:
		return Affine, nil
	default:
		return "", fmt.Errorf("registration: unknown mode %q", s)
	}
}

// Executor runs an external command. Output is the combined stdout and stderr.
type Executor interface {
	Run(ctx context.Context, exe string, args []string, env []string) ([]byte, error)
}

// CommandExecutor runs commands with os/exec.
type CommandExecutor struct{}

// Run implements Executor.
func (CommandExecutor) Run(ctx context.Context, exe string, args []string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Aligner registers moving images onto a fixed reference with BRAINSFit.
type Aligner struct {
	Software   Software
	Mode       Mode
	ITKThreads int
	Exec       Executor
	Logger     *slog.Logger
}

// BRAINSFitArgs builds the command line for one registration.
func BRAINSFitArgs(fixed, moving, output string, mode Mode) []string {
	transform := "Rigid"
	if mode == Affine {
		transform = "Rigid,ScaleVersor3D,ScaleSkewVersor3D,Affine"
	}
	return []string{
		"--fixedVolume", fixed,
		"--movingVolume", moving,
		"--outputVolume", output,
		"--transformType", transform,
		"--initializeTransformMode", "useMomentsAlign",
		"--interpolationMode", "Linear",
		"--samplingPercentage", "0.1",
	}
}

// Align writes the registered image to outDir as <name>_registered<ext> and
// returns its path. An empty name falls back to the base name of moving.
// With mode none the moving path is returned unchanged.
func (a *Aligner) Align(ctx context.Context, fixed, moving, name, outDir string) (string, error) {
	if a.Mode == None || a.Mode == "" {
		return moving, nil
	}
	exe, err := a.Software.Path("BRAINSFit")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create registration directory: %w", err)
	}

	base := filepath.Base(moving)
	ext := filepath.Ext(base)
	if name == "" {
		name = strings.TrimSuffix(base, ext)
	}
	output := filepath.Join(outDir, name+"_registered"+ext)

	var env []string
	if a.ITKThreads > 0 {
		env = append(env, "ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS="+strconv.Itoa(a.ITKThreads))
	}

	executor := a.Exec
	if executor == nil {
		executor = CommandExecutor{}
	}
	args := BRAINSFitArgs(fixed, moving, output, a.Mode)
	if a.Logger != nil {
		a.Logger.Debug("registering image", "tool", exe, "moving", moving, "mode", string(a.Mode))
	}
	out, err := executor.Run(ctx, exe, args, env)
	if err != nil {
		return "", fmt.Errorf("BRAINSFit %s: %w: %s", base, err, strings.TrimSpace(string(out)))
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("BRAINSFit %s produced no output: %w", base, err)
	}
	return output, nil
}
