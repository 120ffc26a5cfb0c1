package services

import "fmt"

// Options selects the filters applied to one run. They are fixed once the run
// is accepted.
type Options struct {
	Scale         int  `json:"scale"`
	Denoise       bool `json:"denoise"`
	Sharpen       bool `json:"sharpen"`
	EnhanceColors bool `json:"enhance_colors"`
}

func DefaultOptions() Options {
	return Options{
		Scale:         2,
		Denoise:       true,
		Sharpen:       true,
		EnhanceColors: true,
	}
}

func (o Options) Validate(maxScale int) error {
	if o.Scale < 1 {
		return fmt.Errorf("scale must be at least 1, got %d", o.Scale)
	}
	if maxScale > 0 && o.Scale > maxScale {
		return fmt.Errorf("scale must be at most %d, got %d", maxScale, o.Scale)
	}
	return nil
}
