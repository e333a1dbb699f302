package membership

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Guild is one static roster entry.
type Guild struct {
	Officers []string `yaml:"officers"`
	Members  int      `yaml:"members"`
}

// Static is an in-memory membership.Service backed by a fixed roster.
type Static struct {
	guilds map[string]Guild
}

type rosterFile struct {
	Guilds map[string]Guild `yaml:"guilds"`
}

// NewStatic builds a static roster. A nil map is an empty roster.
func NewStatic(guilds map[string]Guild) *Static {
	if guilds == nil {
		guilds = map[string]Guild{}
	}
	return &Static{guilds: guilds}
}

// LoadStatic reads a YAML roster file:
//
//	guilds:
//	  ember-court:
//	    officers: [ada, grace]
//	    members: 14
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse roster file: %w", err)
	}
	return NewStatic(file.Guilds), nil
}

// IsOfficer reports whether username is on the guild's officer list.
func (s *Static) IsOfficer(_ context.Context, guildID, username string) (bool, error) {
	guild, ok := s.guilds[strings.TrimSpace(guildID)]
	if !ok {
		return false, nil
	}
	username = strings.TrimSpace(username)
	for _, officer := range guild.Officers {
		if officer == username {
			return true, nil
		}
	}
	return false, nil
}

// ActiveMemberCount returns the roster's member count for the guild.
func (s *Static) ActiveMemberCount(_ context.Context, guildID string) (int, error) {
	return s.guilds[strings.TrimSpace(guildID)].Members, nil
}

var _ Service = (*Static)(nil)
