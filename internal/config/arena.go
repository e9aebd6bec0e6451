package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/projector.arena/internal/calibration"
)

// DefaultConfigPath is the path to the canonical arena defaults file.
const DefaultConfigPath = "config/arena.defaults.json"

// ArenaConfig is the arena's startup configuration. Every field is optional;
// the Get* methods supply defaults for fields the file leaves out.
type ArenaConfig struct {
	// Operator display preferences
	CalibratedFeedBehavior *string `json:"calibrated_feed_behavior,omitempty"` // everywhere | only_in_bounds | crop
	ShowArenaShotMarkers   *bool   `json:"show_arena_shot_markers,omitempty"`

	// Calibration
	TransformModel        *string  `json:"transform_model,omitempty"` // homography | affine
	MaxConditionNumber    *float64 `json:"max_condition_number,omitempty"`
	AutoCalibrate         *bool    `json:"auto_calibrate,omitempty"`
	CalibrationGridRows   *int     `json:"calibration_grid_rows,omitempty"`
	CalibrationGridCols   *int     `json:"calibration_grid_cols,omitempty"`
	CalibrationGridMargin *float64 `json:"calibration_grid_margin,omitempty"`

	// Arena surface
	ArenaWidth     *float64 `json:"arena_width,omitempty"`
	ArenaHeight    *float64 `json:"arena_height,omitempty"`
	InputAuthority *string  `json:"input_authority,omitempty"` // primary | preview
	ArenaViewName  *string  `json:"arena_view_name,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyArenaConfig returns an ArenaConfig with every field unset.
func EmptyArenaConfig() *ArenaConfig {
	return &ArenaConfig{}
}

// DefaultArenaConfig returns a config with every field set to its default.
func DefaultArenaConfig() *ArenaConfig {
	c := EmptyArenaConfig()
	grid := c.GetCalibrationGrid()
	return &ArenaConfig{
		CalibratedFeedBehavior: ptrString(c.GetCalibratedFeedBehavior().String()),
		ShowArenaShotMarkers:   ptrBool(c.GetShowArenaShotMarkers()),
		TransformModel:         ptrString(c.GetTransformModel().String()),
		MaxConditionNumber:     ptrFloat64(c.GetMaxConditionNumber()),
		AutoCalibrate:          ptrBool(c.GetAutoCalibrate()),
		CalibrationGridRows:    ptrInt(grid.Rows),
		CalibrationGridCols:    ptrInt(grid.Cols),
		CalibrationGridMargin:  ptrFloat64(grid.Margin),
		ArenaWidth:             ptrFloat64(c.GetArenaWidth()),
		ArenaHeight:            ptrFloat64(c.GetArenaHeight()),
		InputAuthority:         ptrString(c.GetInputAuthority()),
		ArenaViewName:          ptrString(c.GetArenaViewName()),
	}
}

// LoadArenaConfig loads an ArenaConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadArenaConfig(path string) (*ArenaConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyArenaConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *ArenaConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadArenaConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the set fields hold usable values.
func (c *ArenaConfig) Validate() error {
	if c.CalibratedFeedBehavior != nil {
		if _, err := ParseFeedBehavior(*c.CalibratedFeedBehavior); err != nil {
			return err
		}
	}
	if c.TransformModel != nil {
		if _, err := calibration.ParseModel(*c.TransformModel); err != nil {
			return err
		}
	}
	if c.MaxConditionNumber != nil && *c.MaxConditionNumber <= 1 {
		return fmt.Errorf("max_condition_number must be greater than 1, got %g", *c.MaxConditionNumber)
	}
	if c.ArenaWidth != nil && *c.ArenaWidth <= 0 {
		return fmt.Errorf("arena_width must be positive, got %g", *c.ArenaWidth)
	}
	if c.ArenaHeight != nil && *c.ArenaHeight <= 0 {
		return fmt.Errorf("arena_height must be positive, got %g", *c.ArenaHeight)
	}
	if c.InputAuthority != nil {
		switch strings.ToLower(*c.InputAuthority) {
		case "primary", "preview":
		default:
			return fmt.Errorf("input_authority must be primary or preview, got %q", *c.InputAuthority)
		}
	}
	if c.ArenaViewName != nil && strings.TrimSpace(*c.ArenaViewName) == "" {
		return fmt.Errorf("arena_view_name must not be empty")
	}
	if !c.GetCalibrationGrid().Valid() {
		return fmt.Errorf("calibration grid needs at least 2x2 dots and a margin in [0, 0.5), got %+v", c.GetCalibrationGrid())
	}
	return nil
}

// GetCalibratedFeedBehavior returns the shot feed behaviour or the default.
func (c *ArenaConfig) GetCalibratedFeedBehavior() FeedBehavior {
	if c.CalibratedFeedBehavior == nil {
		return FeedBehaviorOnlyInBounds
	}
	b, err := ParseFeedBehavior(*c.CalibratedFeedBehavior)
	if err != nil {
		return FeedBehaviorOnlyInBounds
	}
	return b
}

// GetShowArenaShotMarkers returns the show_arena_shot_markers value or the default.
func (c *ArenaConfig) GetShowArenaShotMarkers() bool {
	if c.ShowArenaShotMarkers == nil {
		return true
	}
	return *c.ShowArenaShotMarkers
}

// GetTransformModel returns the calibration model or the default.
func (c *ArenaConfig) GetTransformModel() calibration.Model {
	if c.TransformModel == nil {
		return calibration.ModelHomography
	}
	m, err := calibration.ParseModel(*c.TransformModel)
	if err != nil {
		return calibration.ModelHomography
	}
	return m
}

// GetMaxConditionNumber returns the max_condition_number value or the default.
func (c *ArenaConfig) GetMaxConditionNumber() float64 {
	if c.MaxConditionNumber == nil {
		return calibration.DefaultMaxConditionNumber
	}
	return *c.MaxConditionNumber
}

// GetAutoCalibrate reports whether opening the arena starts calibration.
func (c *ArenaConfig) GetAutoCalibrate() bool {
	if c.AutoCalibrate == nil {
		return true
	}
	return *c.AutoCalibrate
}

// GetCalibrationGrid returns the calibration dot grid.
func (c *ArenaConfig) GetCalibrationGrid() calibration.GridPattern {
	g := calibration.DefaultGridPattern()
	if c.CalibrationGridRows != nil {
		g.Rows = *c.CalibrationGridRows
	}
	if c.CalibrationGridCols != nil {
		g.Cols = *c.CalibrationGridCols
	}
	if c.CalibrationGridMargin != nil {
		g.Margin = *c.CalibrationGridMargin
	}
	return g
}

// GetArenaWidth returns the arena_width value or the default.
func (c *ArenaConfig) GetArenaWidth() float64 {
	if c.ArenaWidth == nil {
		return 1280
	}
	return *c.ArenaWidth
}

// GetArenaHeight returns the arena_height value or the default.
func (c *ArenaConfig) GetArenaHeight() float64 {
	if c.ArenaHeight == nil {
		return 720
	}
	return *c.ArenaHeight
}

// GetInputAuthority returns "primary" or "preview".
func (c *ArenaConfig) GetInputAuthority() string {
	if c.InputAuthority == nil {
		return "preview"
	}
	return strings.ToLower(*c.InputAuthority)
}

// GetArenaViewName returns the camera view name the preview registers as.
func (c *ArenaConfig) GetArenaViewName() string {
	if c.ArenaViewName == nil {
		return "Arena"
	}
	return *c.ArenaViewName
}
