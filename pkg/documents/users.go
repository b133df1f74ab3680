package documents

import (
	"context"
	"slices"
	"sort"
	"strings"
)

// DirectoryConfig describes companies and roles for StaticDirectory.
type DirectoryConfig struct {
	// Companies maps a company id to the user ids administering it.
	Companies map[string][]string `mapstructure:"companies"`

	// AnonymousPrefixes mark user ids that belong to anonymous or service
	// identities. Default: ["anonymous", "service:"].
	AnonymousPrefixes []string `mapstructure:"anonymous_prefixes"`
}

// StaticDirectory is a configuration-backed Users implementation.
type StaticDirectory struct {
	admins    map[string][]string
	anonymous []string
}

// NewStaticDirectory creates a directory from configuration.
func NewStaticDirectory(cfg DirectoryConfig) *StaticDirectory {
	prefixes := cfg.AnonymousPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{"anonymous", "service:"}
	}
	admins := make(map[string][]string, len(cfg.Companies))
	// Config loaders lowercase map keys, so ids are matched case-insensitively.
	for company, users := range cfg.Companies {
		admins[strings.ToLower(company)] = slices.Clone(users)
	}
	return &StaticDirectory{admins: admins, anonymous: prefixes}
}

func (d *StaticDirectory) IsCompanyAdmin(_ context.Context, companyID, userID string) (bool, error) {
	return userID != "" && slices.Contains(d.admins[strings.ToLower(companyID)], userID), nil
}

func (d *StaticDirectory) IsAnonymous(_ context.Context, _, userID string) (bool, error) {
	if userID == "" {
		return true, nil
	}
	for _, p := range d.anonymous {
		if strings.HasPrefix(userID, p) {
			return true, nil
		}
	}
	return false, nil
}

// Companies lists the configured company ids in sorted order.
func (d *StaticDirectory) Companies(context.Context) ([]string, error) {
	ids := make([]string, 0, len(d.admins))
	for id := range d.admins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
