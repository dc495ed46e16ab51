// Package postgres provides PostgreSQL-specific implementations for the
// persistence interfaces of the engine: the entity stores defined in
// internal/store, the durable job queue of internal/queue and the chord
// barrier of internal/pipeline. It handles query execution and data
// mapping between domain entities and database records.
package postgres
