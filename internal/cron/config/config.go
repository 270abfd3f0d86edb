package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Conversation cache purge, every 5 minutes
	CronScheduleCachePurge string `env:"CRON_SCHEDULE_CACHE_PURGE" envDefault:"0 */5 * * * *"`
	// Adapter status report, every 15 minutes
	CronScheduleStatusReport string `env:"CRON_SCHEDULE_STATUS_REPORT" envDefault:"0 */15 * * * *"`
}
