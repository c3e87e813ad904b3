// Package scheduler triggers housekeeping jobs (session reaping, storage
// checks) on cron or interval schedules. Jobs run on robfig/cron goroutines
// with a per-job timeout; a job still running when its next tick arrives is
// skipped.
package scheduler
