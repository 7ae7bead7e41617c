//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// secretgate.UserStore. It supports multi-tenancy through Datastore
// namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: user accounts, keyed by user id
//   - Username: username reservations, keyed by the username
//   - FederatedLink: provider subject links, keyed by "provider:subject"
//
// Reservations and links are written in the same transaction as the user
// they point at, which is what makes registration and federated
// find-or-create atomic.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	userStore := gae.NewUserStore(client, "")  // default namespace
package gae
