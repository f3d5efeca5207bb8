package repository

import (
	"context"
	"errors"
)

// Namespaces for the three durable collections. Absence of a key on first
// read is a valid uninitialized state, reported as ErrNotFound.
const (
	NamespaceNotifications = "notifications"
	NamespaceSubscription  = "subscription"
	NamespacePreferences   = "preferences"
)

var (
	ErrNotFound      = errors.New("repository: key not found")
	ErrQuotaExceeded = errors.New("repository: namespace quota exceeded")
)

// Repository is a namespaced key-value store. Each Put/Delete is atomic;
// concurrent writers resolve last-write-wins per key. Implementations
// enforce an optional per-namespace entry cap and report ErrQuotaExceeded
// when a Put of a new key would exceed it.
type Repository interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)
}
