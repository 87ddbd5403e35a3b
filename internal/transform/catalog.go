// Package transform runs the ordered catalog of SQL scripts that builds the
// warehouse dimensions, facts and reporting views from the staging tables.
package transform

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"parcelhub/internal/common"
	"parcelhub/pkg/errors"
)

// Step is one catalog entry: a named script and the steps it builds on
type Step struct {
	Name      string
	Script    string
	DependsOn []string
}

// Catalog is the execution order of the transformation steps
type Catalog []Step

// Build order of the warehouse objects. Each step lists the objects its
// script reads.
var defaultSteps = []struct {
	name string
	deps []string
}{
	{"dim_hub", nil},
	{"dim_parcel", nil},
	{"dim_route", []string{"dim_hub"}},
	{"fact_parcel_events", []string{"dim_parcel", "dim_hub", "dim_route"}},
	{"vw_daily_route_performance", []string{"fact_parcel_events", "dim_route"}},
	{"vw_parcel_event_sequence", []string{"fact_parcel_events"}},
}

// DefaultCatalog returns the fixed catalog with scripts resolved to
// <sqlDir>/<name>.sql
func DefaultCatalog(sqlDir string) (Catalog, error) {
	c := make(Catalog, 0, len(defaultSteps))
	for _, s := range defaultSteps {
		script, err := common.JoinPath(sqlDir, s.name+".sql")
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("invalid SQL directory %q: %v", sqlDir, err), "sql_dir")
		}
		c = append(c, Step{Name: s.name, Script: script, DependsOn: s.deps})
	}
	return c, c.Validate()
}

// Validate checks that step names are unique and that every dependency is a
// step placed earlier in the catalog.
func (c Catalog) Validate() error {
	position := make(map[string]int, len(c))
	for i, s := range c {
		if strings.TrimSpace(s.Name) == "" {
			return catalogError(fmt.Sprintf("step %d has no name", i+1), s.Name)
		}
		if _, dup := position[s.Name]; dup {
			return catalogError(fmt.Sprintf("step %q is listed twice", s.Name), s.Name)
		}
		position[s.Name] = i
	}

	for i, s := range c {
		for _, dep := range s.DependsOn {
			at, ok := position[dep]
			if !ok {
				return catalogError(fmt.Sprintf("step %q depends on unknown step %q", s.Name, dep), s.Name)
			}
			if at >= i {
				return catalogError(fmt.Sprintf("step %q runs before its dependency %q", s.Name, dep), s.Name)
			}
		}
	}
	return nil
}

func catalogError(msg, step string) *errors.AppError {
	return errors.New(errors.ErrCodeCatalogInvalid, "Invalid transformation catalog: "+msg).
		WithContext("step", step).
		WithSeverity(errors.SeverityCritical)
}

// Names returns the step names in execution order
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name
	}
	return names
}

// Unlisted returns the .sql files in dir that no catalog step refers to.
// They are never executed.
func (c Catalog) Unlisted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to list SQL directory").
			WithContext("dir", dir)
	}

	listed := make(map[string]bool, len(c))
	for _, s := range c {
		listed[filepath.Base(s.Script)] = true
	}

	var extra []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".sql") && !listed[e.Name()] {
			extra = append(extra, e.Name())
		}
	}
	sort.Strings(extra)
	return extra, nil
}
