// Package config provides centralized configuration management for the
// platform daemon: storage and queue driver selection, engine concurrency,
// scan and retry schedules, alerting channels and logging behaviour.
package config
