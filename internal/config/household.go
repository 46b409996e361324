package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"conti/internal/core"

	"gopkg.in/yaml.v3"
)

// HouseholdFile is the YAML seed describing the household and its members:
//
//	id: home
//	members:
//	  - id: alice
//	    name: Alice
type HouseholdFile struct {
	ID      string         `yaml:"id"`
	Members []MemberRecord `yaml:"members"`
}

type MemberRecord struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoadHousehold reads and validates a household seed file.
func LoadHousehold(path string) (*HouseholdFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read household file: %w", err)
	}
	return ParseHousehold(data)
}

func ParseHousehold(data []byte) (*HouseholdFile, error) {
	var h HouseholdFile
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse household file: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

func (h *HouseholdFile) Validate() error {
	if strings.TrimSpace(h.ID) == "" {
		return fmt.Errorf("household file: missing id")
	}
	if len(h.Members) == 0 {
		return fmt.Errorf("household file: at least one member is required")
	}
	seen := make(map[string]struct{}, len(h.Members))
	for i, m := range h.Members {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return fmt.Errorf("household file: member %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("household file: duplicate member id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// CoreMembers returns the members ordered by id, defaulting names to ids.
func (h *HouseholdFile) CoreMembers() []core.Member {
	out := make([]core.Member, 0, len(h.Members))
	for _, m := range h.Members {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			name = strings.TrimSpace(m.ID)
		}
		out = append(out, core.Member{ID: strings.TrimSpace(m.ID), Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *HouseholdFile) Household() core.Household {
	members := h.CoreMembers()
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return core.Household{ID: h.ID, MemberIDs: ids}
}
