package migrator

import (
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Migration is one versioned schema change
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	NoTransaction bool
	Dependencies  []int
}

// Migration files are named NNN_name.sql and start with a header:
//
//	-- +migrate Up [notransaction]
//	-- +migrate Depends: 1 2
//
// Plain comments may sit between the directives. The SQL body follows.
var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upRegex       = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
	dependsRegex  = regexp.MustCompile(`^--\s*\+migrate\s+Depends:(.*)$`)
)

const formatHint = "migration files are named NNN_name.sql and begin with '-- +migrate Up'"

// ParseMigration parses the content of the migration file named filename.
func ParseMigration(filename string, content []byte) (*Migration, error) {
	m := filenameRegex.FindStringSubmatch(filename)
	if m == nil {
		err := errors.Newf("invalid migration filename format: %s", filename)
		return nil, errors.WithHint(err, formatHint)
	}
	// Three digits always parse
	version, _ := strconv.Atoi(m[1])

	migration := &Migration{Version: version, Name: m[2]}

	lines := strings.Split(string(content), "\n")
	body := -1
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if up := upRegex.FindStringSubmatch(line); up != nil {
			migration.NoTransaction = strings.TrimSpace(up[1]) == "notransaction"
			body = i + 1
			break
		}
		if strings.HasPrefix(line, "--") {
			continue
		}
		break
	}
	if body < 0 {
		err := errors.Newf("missing '-- +migrate Up' marker in migration file: %s", filename)
		return nil, errors.WithHint(err, formatHint)
	}

	// Directives may follow the marker until the first SQL line
	for ; body < len(lines); body++ {
		line := strings.TrimSpace(lines[body])
		if line != "" && !strings.HasPrefix(line, "--") {
			break
		}

		deps := dependsRegex.FindStringSubmatch(line)
		if deps == nil {
			continue
		}
		fields := strings.Fields(deps[1])
		if len(fields) == 0 {
			return nil, errors.Newf("empty dependency list in migration file: %s", filename)
		}
		for _, field := range fields {
			dep, err := strconv.Atoi(field)
			if err != nil {
				return nil, errors.Newf("invalid dependency version %q in migration file: %s", field, filename)
			}
			migration.Dependencies = append(migration.Dependencies, dep)
		}
	}

	if body < len(lines) {
		migration.UpSQL = strings.TrimSpace(strings.Join(lines[body:], "\n"))
	}
	if migration.UpSQL == "" {
		return nil, errors.Newf("migration file contains no SQL statements: %s", filename)
	}

	return migration, nil
}

// LoadMigrations parses every NNN_name.sql file in dir and returns them in
// version order. Versions must run 1..N without gaps, and a migration may only
// depend on earlier versions.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read migrations directory %s", dir)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %s", entry.Name())
		}

		migration, err := ParseMigration(entry.Name(), content)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i, m := range migrations {
		if want := i + 1; m.Version != want {
			if i > 0 && migrations[i-1].Version == m.Version {
				return nil, errors.Newf("duplicate migration version: %d", m.Version)
			}
			return nil, errors.Newf("gap in migration versions: expected %d, found %d", want, m.Version)
		}

		for _, dep := range m.Dependencies {
			switch {
			case dep < 1 || dep > len(migrations):
				return nil, errors.Newf("migration %d depends on non-existent version %d", m.Version, dep)
			case dep >= m.Version:
				// Migrations apply in version order, so this could never be satisfied
				err := errors.Newf("migration %d depends on later version %d", m.Version, dep)
				return nil, errors.WithHint(err, "a migration may only depend on lower versions")
			}
		}
	}

	return migrations, nil
}
