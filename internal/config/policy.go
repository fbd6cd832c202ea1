package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"crabstack.local/projects/crab-stk/internal/stk"
)

const DefaultMenuLabel = "SIM Toolkit"

// SlotPolicy is the operator configuration of one slot.
type SlotPolicy struct {
	LaunchBrowserDisabled bool
	DefaultBrowserURL     string
	MenuLabel             string
	MenuIcon              []byte
}

// Policy is the part of the configuration that may change while the daemon
// runs.
type Policy struct {
	DefaultBrowserURL string
	MenuLabel         string
	MenuIcon          []byte
	Slots             map[stk.SlotID]SlotPolicy
}

func (p Policy) slot(slot stk.SlotID) SlotPolicy {
	return p.Slots[slot]
}

func buildPolicy(source fileSTKConfig, baseDir string) (Policy, error) {
	policy := Policy{
		DefaultBrowserURL: strings.TrimSpace(source.DefaultBrowserURL),
		MenuLabel:         strings.TrimSpace(source.MenuLabel),
		Slots:             make(map[stk.SlotID]SlotPolicy, len(source.Slots)),
	}
	icon, err := readIcon(source.MenuIconFile, baseDir, "stk.menu_icon_file")
	if err != nil {
		return Policy{}, err
	}
	policy.MenuIcon = icon

	for i, entry := range source.Slots {
		if entry.Slot < 0 {
			return Policy{}, fmt.Errorf("stk.slots[%d].slot must be >= 0", i)
		}
		slot := stk.SlotID(entry.Slot)
		if _, dup := policy.Slots[slot]; dup {
			return Policy{}, fmt.Errorf("stk.slots[%d]: duplicate slot %d", i, entry.Slot)
		}
		icon, err := readIcon(entry.MenuIconFile, baseDir, fmt.Sprintf("stk.slots[%d].menu_icon_file", i))
		if err != nil {
			return Policy{}, err
		}
		policy.Slots[slot] = SlotPolicy{
			LaunchBrowserDisabled: entry.LaunchBrowserDisabled,
			DefaultBrowserURL:     strings.TrimSpace(entry.DefaultBrowserURL),
			MenuLabel:             strings.TrimSpace(entry.MenuLabel),
			MenuIcon:              icon,
		}
	}
	return policy, nil
}

func readIcon(path, baseDir, field string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", field, err)
	}
	if !filepath.IsAbs(resolved) && baseDir != "" {
		resolved = filepath.Join(baseDir, resolved)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return data, nil
}

// PolicyStore serves the current Policy to the dispatchers and swaps it
// atomically on reload.
type PolicyStore struct {
	current atomic.Pointer[Policy]
}

func NewPolicyStore(initial Policy) *PolicyStore {
	s := &PolicyStore{}
	s.Store(initial)
	return s
}

func (s *PolicyStore) Store(p Policy) {
	s.current.Store(&p)
}

func (s *PolicyStore) Load() Policy {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return Policy{}
}

func (s *PolicyStore) IsLaunchBrowserDisabled(slot stk.SlotID) bool {
	return s.Load().slot(slot).LaunchBrowserDisabled
}

func (s *PolicyStore) DefaultBrowserURL(slot stk.SlotID) string {
	p := s.Load()
	if url := p.slot(slot).DefaultBrowserURL; url != "" {
		return url
	}
	return p.DefaultBrowserURL
}

// MenuFallback returns the operator label and icon for a main menu that
// arrived without a title.
func (s *PolicyStore) MenuFallback(slot stk.SlotID) (string, []byte) {
	p := s.Load()
	sp := p.slot(slot)
	label := sp.MenuLabel
	if label == "" {
		label = p.MenuLabel
	}
	if label == "" {
		label = DefaultMenuLabel
	}
	icon := sp.MenuIcon
	if icon == nil {
		icon = p.MenuIcon
	}
	return label, append([]byte(nil), icon...)
}
