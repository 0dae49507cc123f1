package selfservice

import (
	"embed"
	"io/fs"
)

//go:embed data/templates
var templatesFS embed.FS

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the SQL migrations for the activity store
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// GetMailTemplatesFS returns the default email templates
func GetMailTemplatesFS() fs.FS {
	return mustSub(templatesFS, "data/templates/mail")
}

// GetViewsFS returns the default registration views
func GetViewsFS() fs.FS {
	return mustSub(templatesFS, "data/templates/views")
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
