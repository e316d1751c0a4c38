// Package migrations owns the SQL schema of every storage driver and applies
// it at startup.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

const (
	postgresDir   = "postgres"
	clickhouseDir = "clickhouse"
)

// Migration is one embedded SQL file.
type Migration struct {
	Name string
	SQL  string
}

// load returns the non-blank migrations under dir, ordered by file name.
func load(dir string) ([]Migration, error) {
	names, err := fs.Glob(files, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", dir, err)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, Migration{Name: path.Base(name), SQL: string(data)})
	}
	return out, nil
}
