package postgres

import _ "embed"

//go:embed migrate.sql
var Schema string
