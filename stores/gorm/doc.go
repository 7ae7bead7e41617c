//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based storage for secretgate. It supports any
// database that GORM supports and is tested against SQLite; PostgreSQL is the
// intended production target.
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - users: one row per account, with unique indexes on username,
//     google_id and facebook_id (NULL when unset)
//   - sessions: server side session data for the scs session manager
//
// # Usage
//
//	db, _ := gormstore.Open(postgres.Open(dsn))
//	_ = gormstore.AutoMigrate(db)
//	users := gormstore.NewUserStore(db)
//	sessions := gormstore.NewSessionStore(db)
package gorm
