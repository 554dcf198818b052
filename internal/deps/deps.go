package deps

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary a dirjobs worker shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is a Requirement after a PATH lookup. Path is set when Available.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

var errNotConfigured = errors.New("command not configured")

// ContainerRuntime describes the container CLI used by the container backend.
func ContainerRuntime(command string) Requirement {
	return Requirement{
		Name:        "Container runtime",
		Command:     strings.TrimSpace(command),
		Description: "Runs the encoding image for each claimed job",
	}
}

// DraptoTools lists the binaries the in-process drapto backend shells out to.
func DraptoTools() []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: "ffmpeg", Description: "Used by drapto for encoding"},
		{Name: "FFprobe", Command: "ffprobe", Description: "Used by drapto for media inspection"},
		{Name: "MediaInfo", Command: "mediainfo", Description: "Enhances drapto HDR detection", Optional: true},
	}
}

// Resolve returns the absolute path of a binary, or an error naming it.
func Resolve(req Requirement) (string, error) {
	cmd := strings.TrimSpace(req.Command)
	if cmd == "" {
		return "", fmt.Errorf("%s: %w", req.Name, errNotConfigured)
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		return "", fmt.Errorf("%s: binary %q not found", req.Name, cmd)
	}
	return path, nil
}

// CheckBinaries resolves every requirement, preserving order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		path, err := Resolve(req)
		switch {
		case errors.Is(err, errNotConfigured):
			status.Detail = errNotConfigured.Error()
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		default:
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}
