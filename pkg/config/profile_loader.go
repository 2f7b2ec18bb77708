package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/sanad"
)

// DataRegionProfile is a per-data-region configuration profile. Tenants
// carry a data_region; the profile for that region decides retention,
// grading floors, and the policy tags stamped onto the tenant context.
type DataRegionProfile struct {
	Name          string          `yaml:"name" json:"name"`
	Code          string          `yaml:"code" json:"code"`
	DataResidency string          `yaml:"data_residency" json:"data_residency"`
	PolicyTags    []string        `yaml:"policy_tags,omitempty" json:"policy_tags,omitempty"`
	Grading       GradingConfig   `yaml:"grading" json:"grading"`
	Retention     RetentionConfig `yaml:"retention" json:"retention"`
	BreakGlass    BreakGlassLimit `yaml:"break_glass" json:"break_glass"`
}

// GradingConfig holds the region's evidentiary floors. Regions can be
// stricter than the platform defaults, never looser.
type GradingConfig struct {
	// ICMinimumGrade is the worst grade admissible in investment-
	// committee output for this region. Platform floor is C; grade D
	// is unusable everywhere.
	ICMinimumGrade string `yaml:"ic_minimum_grade" json:"ic_minimum_grade"`

	// RequireDisclosedCOI refuses undisclosed conflicts outright
	// instead of capping the grade at C.
	RequireDisclosedCOI bool `yaml:"require_disclosed_coi,omitempty" json:"require_disclosed_coi,omitempty"`
}

// RetentionConfig defines how long each record class is kept.
type RetentionConfig struct {
	AuditLogDays    int `yaml:"audit_log_days" json:"audit_log_days"`
	ClaimDays       int `yaml:"claim_days" json:"claim_days"`
	DeliverableDays int `yaml:"deliverable_days" json:"deliverable_days"`
}

// BreakGlassLimit lets a region shorten the emergency-access window.
// The platform cap of 15 minutes still binds.
type BreakGlassLimit struct {
	MaxLifetimeMinutes int `yaml:"max_lifetime_minutes,omitempty" json:"max_lifetime_minutes,omitempty"`
}

const platformBreakGlassMinutes = 15

// Validate enforces the profile invariants: grades must be members of
// the sealed grade set, retention must be positive, and region caps
// may tighten but never exceed platform caps.
func (p *DataRegionProfile) Validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return idiserr.New(idiserr.KindInvalidInput, "config: profile code is required").WithPath("code")
	}
	if p.Grading.ICMinimumGrade != "" {
		g := sanad.Grade(strings.ToUpper(p.Grading.ICMinimumGrade))
		if !sanad.ValidGrade(g) {
			return idiserr.Newf(idiserr.KindInvalidInput,
				"config: profile %s ic_minimum_grade %q is not one of A,B,C,D", p.Code, p.Grading.ICMinimumGrade).
				WithPath("grading.ic_minimum_grade")
		}
		if g == sanad.GradeD {
			return idiserr.Newf(idiserr.KindInvalidInput,
				"config: profile %s cannot admit grade D into IC output", p.Code).
				WithPath("grading.ic_minimum_grade")
		}
	}
	if p.Retention.AuditLogDays < 0 || p.Retention.ClaimDays < 0 || p.Retention.DeliverableDays < 0 {
		return idiserr.Newf(idiserr.KindInvalidInput,
			"config: profile %s retention days must be non-negative", p.Code).WithPath("retention")
	}
	if p.BreakGlass.MaxLifetimeMinutes < 0 || p.BreakGlass.MaxLifetimeMinutes > platformBreakGlassMinutes {
		return idiserr.Newf(idiserr.KindInvalidInput,
			"config: profile %s break_glass.max_lifetime_minutes %d is outside 0..%d",
			p.Code, p.BreakGlass.MaxLifetimeMinutes, platformBreakGlassMinutes).
			WithPath("break_glass.max_lifetime_minutes")
	}
	return nil
}

// ICMinimum returns the region's IC grade floor, defaulting to C.
func (p *DataRegionProfile) ICMinimum() sanad.Grade {
	if p.Grading.ICMinimumGrade == "" {
		return sanad.GradeC
	}
	return sanad.Grade(strings.ToUpper(p.Grading.ICMinimumGrade))
}

// BreakGlassLifetime returns the region's break-glass window, clamped
// to the platform cap. Zero means the platform default.
func (p *DataRegionProfile) BreakGlassLifetime() time.Duration {
	if p.BreakGlass.MaxLifetimeMinutes == 0 {
		return platformBreakGlassMinutes * time.Minute
	}
	return time.Duration(p.BreakGlass.MaxLifetimeMinutes) * time.Minute
}

// LoadProfile loads one region profile by code from
// <profilesDir>/profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*DataRegionProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, idiserr.Wrapf(idiserr.KindNotFound, err, "config: load profile %q", code)
	}

	var profile DataRegionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, idiserr.Wrapf(idiserr.KindInvalidInput, err, "config: parse profile %q", code)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the directory, keyed
// by region code. A single malformed profile fails the whole load:
// partial profile sets would silently route tenants to defaults.
func LoadAllProfiles(profilesDir string) (map[string]*DataRegionProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DataRegionProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, idiserr.Wrapf(idiserr.KindNotFound, err, "config: read %s", filepath.Base(path))
		}

		var profile DataRegionProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, idiserr.Wrapf(idiserr.KindInvalidInput, err, "config: parse %s", filepath.Base(path))
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		if err := profile.Validate(); err != nil {
			return nil, err
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}
