package repository

import "embed"

// Migrations payment 서비스 스키마
//
//go:embed migrations/*.sql
var Migrations embed.FS
