package metrics

import "database/sql"

// UpdateDBPoolStats updates database connection pool metrics from sql.DBStats.
func UpdateDBPoolStats(stats sql.DBStats) {
	DBConnectionPoolSize.WithLabelValues("active").Set(float64(stats.InUse))
	DBConnectionPoolSize.WithLabelValues("idle").Set(float64(stats.Idle))
	DBConnectionPoolSize.WithLabelValues("max").Set(float64(stats.MaxOpenConnections))
}

// UpdateRedisPoolStats updates Redis connection pool metrics.
func UpdateRedisPoolStats(total, idle, stale uint32) {
	RedisConnectionPoolSize.WithLabelValues("total").Set(float64(total))
	RedisConnectionPoolSize.WithLabelValues("idle").Set(float64(idle))
	RedisConnectionPoolSize.WithLabelValues("stale").Set(float64(stale))
}
