// Package api exposes the platform's REST surface: paid execution intake,
// marketplace execution, signal submission, pipeline triggering, billing
// operations and thin read views over opportunities and workers.
package api
