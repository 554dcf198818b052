package encodejob

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"dirjobs/internal/services"
)

// Descriptor is one encoding job.
type Descriptor struct {
	Video           string   `json:"video" yaml:"video"`
	ReferenceVideo  string   `json:"reference_video" yaml:"reference_video"`
	CRF             int      `json:"crf" yaml:"crf"`
	MinLength       float64  `json:"min_length" yaml:"min_length"`
	MaxLength       float64  `json:"max_length" yaml:"max_length"`
	TargetSegLength float64  `json:"target_seg_length" yaml:"target_seg_length"`
	Encoder         string   `json:"encoder" yaml:"encoder"`
	Timestamps      *string  `json:"timestamps,omitempty" yaml:"timestamps,omitempty"`
	CSTBitrate      *float64 `json:"cst_bitrate,omitempty" yaml:"cst_bitrate,omitempty"`

	// Raw holds the decoded document as a generic map for stats output.
	Raw map[string]any `json:"-" yaml:"-"`
}

// Load reads and parses the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job descriptor: %w", err)
	}
	return Parse(data, filepath.Base(path))
}

// Parse decodes data. name selects YAML when it carries a YAML extension.
func Parse(data []byte, name string) (*Descriptor, error) {
	if isYAMLName(name) {
		return parseYAML(data)
	}
	desc, err := parseJSON(data)
	if err == nil {
		return desc, nil
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		if yamlDesc, yamlErr := parseYAML(data); yamlErr == nil {
			return yamlDesc, nil
		}
	}
	return nil, err
}

func parseJSON(data []byte) (*Descriptor, error) {
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, wrapDecode("json", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, wrapDecode("json", err)
	}
	desc.Raw = raw
	return &desc, nil
}

func parseYAML(data []byte) (*Descriptor, error) {
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, wrapDecode("yaml", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, wrapDecode("yaml", err)
	}
	if raw == nil {
		return nil, services.Wrap(services.ErrValidation, "encodejob", "decode yaml", "empty document", nil)
	}
	desc.Raw = raw
	return &desc, nil
}

// wrapDecode keeps the decoder error reachable for errors.As.
func wrapDecode(format string, err error) error {
	return fmt.Errorf("%w: decode %s job descriptor: %w", services.ErrValidation, format, err)
}

func isYAMLName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Validate reports the first missing or out-of-range field.
func (d *Descriptor) Validate() error {
	var problems []string
	if strings.TrimSpace(d.Video) == "" {
		problems = append(problems, "video is required")
	}
	if strings.TrimSpace(d.ReferenceVideo) == "" {
		problems = append(problems, "reference_video is required")
	}
	if strings.TrimSpace(d.Encoder) == "" {
		problems = append(problems, "encoder is required")
	}
	if d.CRF < 0 {
		problems = append(problems, "crf must be non-negative")
	}
	if d.MinLength < 0 || d.MaxLength < 0 || d.TargetSegLength < 0 {
		problems = append(problems, "segment lengths must be non-negative")
	}
	if d.CSTBitrate != nil && *d.CSTBitrate < 0 {
		problems = append(problems, "cst_bitrate must be non-negative")
	}
	if strings.ContainsAny(d.Video, `/\`) {
		problems = append(problems, "video must be a file name, not a path")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: invalid job descriptor: %s", services.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Args returns the container arguments in positional order. Timestamps and
// the constant bitrate are appended only when set.
func (d *Descriptor) Args() []string {
	args := []string{
		d.Video,
		d.ReferenceVideo,
		strconv.Itoa(d.CRF),
		formatFloat(d.MinLength),
		formatFloat(d.MaxLength),
		formatFloat(d.TargetSegLength),
		d.Encoder,
	}
	if d.Timestamps != nil {
		args = append(args, *d.Timestamps)
	}
	if d.CSTBitrate != nil {
		args = append(args, formatFloat(*d.CSTBitrate))
	}
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
