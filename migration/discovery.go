package migration

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/outernet-project/squery/pool"
)

// Script names carry their version as a two-digit major and two-digit minor
// prefix, e.g. 01_02_add_widgets. Anything else is not a migration.
var scriptNameRe = regexp.MustCompile(`(?i)^([0-9]{2})_([0-9]{2})_[^.]+$`)

// sqlFileRe matches migration script files; the captured stem is the script
// name.
var sqlFileRe = regexp.MustCompile(`(?i)^(([0-9]{2})_([0-9]{2})_[^.]+)\.sql$`)

// UpFunc applies one migration. It runs inside a transaction the runner
// controls and must not commit or roll back itself.
type UpFunc func(ctx context.Context, conn pool.Connection, conf map[string]any) error

// Script is one discovered migration.
type Script struct {
	Name  string
	Major int
	Minor int
	Up    UpFunc
}

// Source is a namespace of migration scripts.
type Source interface {
	// Scripts lists the source's scripts in no particular order. Entries not
	// conforming to the naming convention are omitted.
	Scripts() ([]Script, error)
}

// FS returns a Source reading NN_NN_label.sql scripts from the root of fsys.
// Each script's body is executed verbatim inside the runner's transaction.
func FS(fsys fs.FS) Source {
	return fsSource{fsys: fsys}
}

type fsSource struct {
	fsys fs.FS
}

func (s fsSource) Scripts() ([]Script, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("migration: read script directory: %w", err)
	}

	var scripts []Script
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		major, _ := strconv.Atoi(m[2])
		minor, _ := strconv.Atoi(m[3])

		fileName := entry.Name()
		scripts = append(scripts, Script{
			Name:  m[1],
			Major: major,
			Minor: minor,
			Up: func(ctx context.Context, conn pool.Connection, _ map[string]any) error {
				body, readErr := fs.ReadFile(s.fsys, fileName)
				if readErr != nil {
					return fmt.Errorf("migration: read script %s: %w", fileName, readErr)
				}
				return conn.ExecScript(ctx, string(body))
			},
		})
	}
	return scripts, nil
}

// Registry is a Source of migrations written as Go functions.
type Registry struct {
	scripts []Script
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a migration under name, which must follow the NN_NN_label
// convention; non-conforming names are ignored, matching how file sources
// skip stray entries.
func (r *Registry) Register(name string, up UpFunc) {
	m := scriptNameRe.FindStringSubmatch(name)
	if m == nil {
		return
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	r.scripts = append(r.scripts, Script{Name: name, Major: major, Minor: minor, Up: up})
}

func (r *Registry) Scripts() ([]Script, error) {
	return append([]Script(nil), r.scripts...), nil
}

// discover lists a source's scripts with duplicate names collapsed (last one
// wins) and the remainder ordered ascending by (major, minor).
func discover(src Source) ([]Script, error) {
	raw, err := src.Scripts()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Script, len(raw))
	for _, script := range raw {
		byName[strings.ToLower(script.Name)] = script
	}

	scripts := make([]Script, 0, len(byName))
	for _, script := range byName {
		scripts = append(scripts, script)
	}
	sort.Slice(scripts, func(i, j int) bool {
		if scripts[i].Major != scripts[j].Major {
			return scripts[i].Major < scripts[j].Major
		}
		return scripts[i].Minor < scripts[j].Minor
	})
	return scripts, nil
}

// pending filters scripts to those at or past the (major, minor) floor:
// a later major line qualifies outright, while scripts on the same major
// qualify from the floor minor upwards.
func pending(scripts []Script, major, minor int) []Script {
	var out []Script
	for _, script := range scripts {
		if script.Major > major || (script.Major == major && script.Minor >= minor) {
			out = append(out, script)
		}
	}
	return out
}
