package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "constraints"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanEvents - канал записанных событий агрегатов (JSON-конверты).
	RedisChanEvents = RedisNamespace + ":events"
)
