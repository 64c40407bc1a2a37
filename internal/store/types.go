package store

type DatabaseType string

const (
	DBTypePostgres DatabaseType = "postgres"
	DBTypeSQLite   DatabaseType = "sqlite"
)

// maxNumberSkips bounds how many already taken sequence values AssignStudentNumber
// steps over inside one transaction before reporting a conflict.
const maxNumberSkips = 100
