package sqlstore

import "fmt"

// dialect captures the few differences between SQLite and MySQL/Dolt.
type dialect struct {
	name string

	// retry enables transient error retries (server and embedded dolt).
	retry bool

	keyType  string // indexed string columns
	textType string // unbounded text columns
	boolType string

	// insertIgnore is the INSERT variant that skips duplicate keys.
	insertIgnore string
	tableSuffix  string
}

var sqliteDialect = &dialect{
	name:         DriverSQLite,
	keyType:      "TEXT",
	textType:     "TEXT",
	boolType:     "INTEGER",
	insertIgnore: "INSERT OR IGNORE",
}

var mysqlDialect = &dialect{
	name:         DriverMySQL,
	retry:        true,
	keyType:      "VARCHAR(191)",
	textType:     "LONGTEXT",
	boolType:     "TINYINT(1)",
	insertIgnore: "INSERT IGNORE",
	tableSuffix:  " DEFAULT CHARSET=utf8mb4",
}

var doltDialect = func() *dialect {
	d := *mysqlDialect
	d.name = DriverDolt
	return &d
}()

// timeType holds fixed-width UTC timestamps; see formatTime.
const timeType = "VARCHAR(40)"

func (d *dialect) schema() []string {
	k, txt, b, sfx := d.keyType, d.textType, d.boolType, d.tableSuffix
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS projects (
	id %[1]s NOT NULL PRIMARY KEY,
	name %[1]s NOT NULL UNIQUE
)%[2]s`, k, sfx),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS issue_systems (
	id %[1]s NOT NULL PRIMARY KEY,
	project_id %[1]s NOT NULL,
	url %[1]s NOT NULL,
	collection_date %[2]s NOT NULL,
	last_updated %[2]s NULL
)%[3]s`, k, timeType, sfx),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS issues (
	id %[1]s NOT NULL PRIMARY KEY,
	external_id %[1]s NOT NULL,
	title %[2]s,
	description %[2]s,
	status %[1]s,
	resolution %[1]s,
	issue_type %[1]s,
	priority %[1]s,
	environment %[2]s,
	platform %[1]s,
	created_at %[3]s NULL,
	updated_at %[3]s NULL,
	creator_id %[1]s,
	reporter_id %[1]s,
	assignee_id %[1]s,
	parent_issue_id %[1]s,
	parent_external_id %[1]s,
	affects_versions %[2]s,
	fix_versions %[2]s,
	components %[2]s,
	labels %[2]s,
	issue_links %[2]s,
	original_time_estimate BIGINT NULL,
	is_pull_request %[4]s NOT NULL DEFAULT 0
)%[5]s`, k, txt, timeType, b, sfx),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS issue_generations (
	issue_id %[1]s NOT NULL,
	generation_id %[1]s NOT NULL,
	external_id %[1]s NOT NULL,
	sort_order INTEGER NOT NULL,
	PRIMARY KEY (issue_id, generation_id),
	UNIQUE (generation_id, external_id)
)%[2]s`, k, sfx),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS people (
	id %[1]s NOT NULL PRIMARY KEY,
	name %[1]s NOT NULL,
	email %[1]s NOT NULL,
	username %[1]s,
	UNIQUE (name, email)
)%[2]s`, k, sfx),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS comments (
	id %[1]s NOT NULL PRIMARY KEY,
	external_id %[1]s NOT NULL,
	issue_id %[1]s NOT NULL,
	created_at %[3]s NULL,
	author_id %[1]s,
	body %[2]s,
	seq BIGINT NOT NULL,
	UNIQUE (issue_id, external_id)
)%[4]s`, k, txt, timeType, sfx),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS events (
	id %[1]s NOT NULL PRIMARY KEY,
	external_id %[1]s NOT NULL,
	issue_id %[1]s NOT NULL,
	created_at %[3]s NULL,
	author_id %[1]s,
	field_name %[1]s NOT NULL,
	old_value %[2]s,
	new_value %[2]s,
	commit_sha %[1]s,
	seq BIGINT NOT NULL,
	UNIQUE (issue_id, external_id)
)%[4]s`, k, txt, timeType, sfx),
	}
}

// isDuplicate reports whether err is a unique-key violation in any dialect.
func isDuplicate(err error) bool {
	return isMySQLDuplicate(err) || isSQLiteDuplicate(err)
}
