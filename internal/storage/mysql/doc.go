// Package mysql owns the shared MySQL connection used by the per-domain
// stores. Schema creation lives with each store; this package only manages
// pooling and connectivity checks.
package mysql
