// Package scheduler runs relaybot's periodic maintenance jobs on robfig/cron.
//
// Jobs are registered with a schedule string (cron expression or interval,
// see ParseSchedule) before Start. A job never overlaps itself; a tick that
// arrives while the previous run is still going is skipped.
package scheduler
