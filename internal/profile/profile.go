// Package profile describes one robot variant: how many joints its firmware
// addresses, which of them are absent, and the skill row layout it expects.
//
// A Profile is a value. It is built once (defaults or device config) and
// handed to the encoder and discovery explicitly.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidProfile = errors.New("profile: invalid profile")

const (
	DefaultModel  = "bittle"
	DefaultJoints = 16
	// LaneLimit is the largest joint magnitude that fits the signed byte lane
	// with firmware headroom.
	LaneLimit = 125
)

// Profile is the per-variant validity rule set.
type Profile struct {
	Model          string
	Joints         int
	DisabledJoints []int

	GaitRowWidth     int
	PostureRowWidth  int
	BehaviorRowWidth int
	// ScaledSlots is how many leading slots of each skill row carry angles.
	ScaledSlots int

	BaudRate int
}

// Default returns the stock 16-joint profile.
func Default() Profile {
	return Profile{
		Model:            DefaultModel,
		Joints:           DefaultJoints,
		GaitRowWidth:     8,
		PostureRowWidth:  16,
		BehaviorRowWidth: 20,
		ScaledSlots:      16,
		BaudRate:         115200,
	}
}

// Validate checks the profile is internally consistent.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidProfile)
	}
	if p.Joints <= 0 || p.Joints > 127 {
		return fmt.Errorf("%w: joints=%d out of range", ErrInvalidProfile, p.Joints)
	}
	for _, j := range p.DisabledJoints {
		if j < 0 || j >= p.Joints {
			return fmt.Errorf("%w: disabled joint %d outside [0,%d)", ErrInvalidProfile, j, p.Joints)
		}
	}
	if p.GaitRowWidth <= 0 || p.PostureRowWidth <= 0 || p.BehaviorRowWidth <= 0 {
		return fmt.Errorf("%w: row widths must be positive", ErrInvalidProfile)
	}
	if p.ScaledSlots <= 0 {
		return fmt.Errorf("%w: scaled_slots must be positive", ErrInvalidProfile)
	}
	if p.BaudRate <= 0 {
		return fmt.Errorf("%w: baud_rate must be positive", ErrInvalidProfile)
	}
	return nil
}

// Enabled reports whether joint idx exists on this variant.
func (p Profile) Enabled(idx int) bool {
	if idx < 0 || idx >= p.Joints {
		return false
	}
	for _, j := range p.DisabledJoints {
		if j == idx {
			return false
		}
	}
	return true
}

// WithDisabled returns a copy with the given joints disabled.
func (p Profile) WithDisabled(joints ...int) Profile {
	seen := make(map[int]bool, len(p.DisabledJoints)+len(joints))
	out := make([]int, 0, len(p.DisabledJoints)+len(joints))
	for _, j := range append(append([]int(nil), p.DisabledJoints...), joints...) {
		if seen[j] {
			continue
		}
		seen[j] = true
		out = append(out, j)
	}
	sort.Ints(out)
	p.DisabledJoints = out
	return p
}

// RowWidth returns the skill row width selected by a skill period.
func (p Profile) RowWidth(period int) int {
	switch {
	case period > 1:
		return p.GaitRowWidth
	case period == 1:
		return p.PostureRowWidth
	default:
		return p.BehaviorRowWidth
	}
}

// SkillHeader returns the skill header length selected by a skill period.
func SkillHeader(period int) int {
	if period >= 0 {
		return 4
	}
	return 7
}
