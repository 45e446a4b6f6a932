package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rendition is one target of the encoding ladder.
type Rendition struct {
	Label            string `yaml:"label"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	VideoBitrateKbps int    `yaml:"video_bitrate_kbps"`
	AudioBitrateKbps int    `yaml:"audio_bitrate_kbps"`
}

type EncodingOptions struct {
	SegmentSeconds  int    `yaml:"segment_seconds"`
	AudioSampleRate int    `yaml:"audio_sample_rate"`
	AudioChannels   int    `yaml:"audio_channels"`
	Preset          string `yaml:"preset"`
	SkipUpscale     bool   `yaml:"skip_upscale"`
	// DisableHLS publishes the relocated source as-is without renditions.
	DisableHLS bool `yaml:"disable_hls"`
}

// PosterOptions controls the still images generated next to the HLS tree.
type PosterOptions struct {
	Enabled      bool     `yaml:"enabled"`
	OffsetSecond float64  `yaml:"offset_seconds"`
	Sizes        []string `yaml:"sizes"`
	Quality      int      `yaml:"quality"`
	ConvertTo    string   `yaml:"convert_to"`
}

type PipelineConfig struct {
	Renditions []Rendition     `yaml:"renditions"`
	Encoding   EncodingOptions `yaml:"encoding"`
	Poster     PosterOptions   `yaml:"poster"`
	// TierCeilings maps a tier to its maximum rendition height. 0 means unlimited.
	TierCeilings map[string]int `yaml:"tier_ceilings"`
	DefaultTier  string         `yaml:"default_tier"`
}

// LoadPipelineConfig reads the YAML file at path. A missing file yields the
// defaults; a malformed one is an error.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultPipelineConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	// yaml.v3 merges into a non-nil map, so a file that names tier ceilings
	// replaces the default table instead of extending it.
	cfg := DefaultPipelineConfig()
	cfg.TierCeilings = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	if cfg.TierCeilings == nil {
		cfg.TierCeilings = DefaultPipelineConfig().TierCeilings
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	cfg.sortRenditions()
	return cfg, nil
}

func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Renditions: []Rendition{
			{Label: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128},
			{Label: "1080p", Width: 1920, Height: 1080, VideoBitrateKbps: 5000, AudioBitrateKbps: 192},
		},
		Encoding: EncodingOptions{
			SegmentSeconds:  10,
			AudioSampleRate: 48000,
			AudioChannels:   2,
			Preset:          "veryfast",
			SkipUpscale:     true,
		},
		Poster: PosterOptions{
			Enabled:      true,
			OffsetSecond: 1,
			Sizes:        []string{"320", "640", "1280"},
			Quality:      85,
			ConvertTo:    "jpeg",
		},
		TierCeilings: map[string]int{"free": 720, "paid": 0},
		DefaultTier:  "free",
	}
}

func (p *PipelineConfig) Validate() error {
	if len(p.Renditions) == 0 {
		return errors.New("at least one rendition is required")
	}
	seen := make(map[string]bool, len(p.Renditions))
	for _, r := range p.Renditions {
		if r.Label == "" {
			return errors.New("rendition label is required")
		}
		if seen[r.Label] {
			return fmt.Errorf("duplicate rendition label %q", r.Label)
		}
		seen[r.Label] = true
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("rendition %s: dimensions must be positive", r.Label)
		}
		if r.VideoBitrateKbps <= 0 || r.AudioBitrateKbps <= 0 {
			return fmt.Errorf("rendition %s: bitrates must be positive", r.Label)
		}
	}
	if p.Encoding.SegmentSeconds <= 0 {
		return errors.New("segment_seconds must be positive")
	}
	if p.Encoding.AudioSampleRate <= 0 || p.Encoding.AudioChannels <= 0 {
		return errors.New("audio sample rate and channels must be positive")
	}
	if _, ok := p.TierCeilings[p.DefaultTier]; !ok {
		return fmt.Errorf("default tier %q has no ceiling", p.DefaultTier)
	}
	for tier, ceiling := range p.TierCeilings {
		if ceiling < 0 {
			return fmt.Errorf("tier %q: ceiling must be 0 (unlimited) or positive, got %d", tier, ceiling)
		}
	}
	return nil
}

// CeilingFor returns the height ceiling of tier, falling back to the default
// tier for unknown names.
func (p *PipelineConfig) CeilingFor(tier string) int {
	if c, ok := p.TierCeilings[tier]; ok {
		return c
	}
	return p.TierCeilings[p.DefaultTier]
}

func (p *PipelineConfig) sortRenditions() {
	sort.SliceStable(p.Renditions, func(i, j int) bool {
		return p.Renditions[i].VideoBitrateKbps < p.Renditions[j].VideoBitrateKbps
	})
}
