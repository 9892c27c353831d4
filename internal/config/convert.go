package config

import (
	"github.com/danmuck/bittyctl/internal/discovery"
	"github.com/danmuck/bittyctl/internal/profile"
)

// DefaultDeviceConfig mirrors profile.Default and the built-in alias rules.
func DefaultDeviceConfig() DeviceConfig {
	p := profile.Default()
	rules := discovery.DefaultRules()
	cfg := DeviceConfig{
		Model:            p.Model,
		Joints:           p.Joints,
		BaudRate:         p.BaudRate,
		GaitRowWidth:     p.GaitRowWidth,
		PostureRowWidth:  p.PostureRowWidth,
		BehaviorRowWidth: p.BehaviorRowWidth,
		ScaledSlots:      p.ScaledSlots,
		Rules:            RulesConfig{Spurious: append([]string(nil), rules.Spurious...)},
	}
	for _, rule := range rules.Aliases {
		cfg.Rules.Aliases = append(cfg.Rules.Aliases, AliasEntry{
			Marker:         rule.Marker,
			MustContain:    rule.AliasMustContain,
			MustNotContain: rule.AliasMustNotContain,
		})
	}
	return cfg
}

// WithDefaults fills zero fields. An empty rules section selects the
// built-in rules as a whole.
func (c DeviceConfig) WithDefaults() DeviceConfig {
	def := DefaultDeviceConfig()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Joints <= 0 {
		c.Joints = def.Joints
	}
	if c.BaudRate <= 0 {
		c.BaudRate = def.BaudRate
	}
	if c.GaitRowWidth <= 0 {
		c.GaitRowWidth = def.GaitRowWidth
	}
	if c.PostureRowWidth <= 0 {
		c.PostureRowWidth = def.PostureRowWidth
	}
	if c.BehaviorRowWidth <= 0 {
		c.BehaviorRowWidth = def.BehaviorRowWidth
	}
	if c.ScaledSlots <= 0 {
		c.ScaledSlots = def.ScaledSlots
	}
	if len(c.Rules.Aliases) == 0 && len(c.Rules.Spurious) == 0 {
		c.Rules = def.Rules
	}
	return c
}

func (c DeviceConfig) Profile() profile.Profile {
	p := profile.Profile{
		Model:            c.Model,
		Joints:           c.Joints,
		GaitRowWidth:     c.GaitRowWidth,
		PostureRowWidth:  c.PostureRowWidth,
		BehaviorRowWidth: c.BehaviorRowWidth,
		ScaledSlots:      c.ScaledSlots,
		BaudRate:         c.BaudRate,
	}
	return p.WithDisabled(c.DisabledJoints...)
}

func (c DeviceConfig) RuleTable() discovery.RuleTable {
	table := discovery.RuleTable{Spurious: append([]string(nil), c.Rules.Spurious...)}
	for _, entry := range c.Rules.Aliases {
		table.Aliases = append(table.Aliases, discovery.AliasRule{
			Marker:              entry.Marker,
			AliasMustContain:    entry.MustContain,
			AliasMustNotContain: entry.MustNotContain,
		})
	}
	return table
}
