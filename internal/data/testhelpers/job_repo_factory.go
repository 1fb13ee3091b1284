// Package testhelpers builds data repositories wired to a shared clock for tests.
package testhelpers

import (
	"database/sql"

	"github.com/target/inkwell/internal/data"
)

// Repos bundles every Postgres repository over one database handle.
type Repos struct {
	Jobs        *data.JobRepo
	Issues      *data.IssueRepo
	Deliveries  *data.DeliveryRepo
	Preferences *data.PreferencesRepo
	Events      *data.EmailEventRepo
}

// NewReposWithTimeProvider creates all repositories sharing tp.
func NewReposWithTimeProvider(db *sql.DB, tp data.TimeProvider) Repos {
	cfg := data.RepoConfig{TimeProvider: tp}
	return Repos{
		Jobs:        data.NewJobRepo(db, cfg),
		Issues:      data.NewIssueRepo(db, cfg),
		Deliveries:  data.NewDeliveryRepo(db, cfg),
		Preferences: data.NewPreferencesRepo(db),
		Events:      data.NewEmailEventRepo(db, cfg),
	}
}
