package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"teamcal/internal/model"
)

// Seed is a YAML fixture for the memory store, used for demos and local
// development without a database.
type Seed struct {
	Seasons []struct {
		ID       int64     `yaml:"id"`
		TenantID int64     `yaml:"tenant_id"`
		Start    time.Time `yaml:"start"`
		End      time.Time `yaml:"end"`
		Name     string    `yaml:"name"`
		Breaks   []struct {
			From time.Time `yaml:"from"`
			To   time.Time `yaml:"to"`
		} `yaml:"breaks"`
	} `yaml:"seasons"`

	Groups []struct {
		ID         int64  `yaml:"id"`
		TenantID   int64  `yaml:"tenant_id"`
		Name       string `yaml:"name"`
		AgeGroup   string `yaml:"age_group"`
		Gender     string `yaml:"gender"`
		SkillLevel string `yaml:"skill_level"`
		Color      string `yaml:"color"`
		Roster     []struct {
			ID        int64  `yaml:"id"`
			MemberID  int64  `yaml:"member_id"`
			Role      string `yaml:"role"`
			FirstName string `yaml:"first_name"`
			LastName  string `yaml:"last_name"`
		} `yaml:"roster"`
	} `yaml:"groups"`

	GroupsDisplay map[int64]*model.GroupsDisplayConfig `yaml:"groups_display"`
}

// LoadSeed reads a Seed fixture from path.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &s, nil
}

// Apply loads the fixture into m.
func (s *Seed) Apply(m *Memory) {
	for _, ss := range s.Seasons {
		season := model.Season{ID: ss.ID, TenantID: ss.TenantID, StartDate: ss.Start, EndDate: ss.End, CustomName: ss.Name}
		for _, b := range ss.Breaks {
			season.Breaks = append(season.Breaks, model.SeasonBreak{From: b.From, To: b.To})
		}
		m.PutSeason(season)
	}
	for _, g := range s.Groups {
		m.PutGroup(model.Group{
			ID: g.ID, TenantID: g.TenantID, Name: g.Name, AgeGroup: g.AgeGroup,
			Gender: g.Gender, SkillLevel: g.SkillLevel, Appearance: model.Appearance{Color: g.Color},
		})
		for _, r := range g.Roster {
			role := r.Role
			if role == "" {
				role = model.RolePerformer
			}
			m.PutRoster(g.ID, model.RosterEntry{
				ID: r.ID, MemberID: r.MemberID, TenantID: g.TenantID, Role: role,
				Member: model.Member{FirstName: r.FirstName, LastName: r.LastName},
			})
		}
	}
	for tenantID, cfg := range s.GroupsDisplay {
		m.SetGroupsDisplayConfig(tenantID, cfg)
	}
}
