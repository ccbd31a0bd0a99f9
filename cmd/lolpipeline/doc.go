// Package main hosts the lolpipeline entrypoint.
//
// Architecture overview:
//   - Stages: internal/pipeline runs four stages in dependency order. Ladder
//     collection walks league-exp pages per (queue, tier, division) tuple,
//     match-id expansion reads players the database has no references for,
//     and the detail and timeline stages fetch records for matches missing
//     them. Every write is idempotent, so a rerun converges instead of
//     duplicating rows.
//   - API client: internal/riot wraps the Riot endpoints behind a dual
//     sliding-window rate limiter (internal/ratelimit) shared by all workers
//     and a jittered exponential retry policy (internal/retry). 429 responses
//     penalize the shared limiter so every in-flight worker backs off.
//   - Persistence: internal/store/postgres holds the pgx implementation;
//     match details and timelines commit as single transactions gated on the
//     header row's ON CONFLICT outcome. internal/store/memory backs tests.
//   - Archival: internal/archive optionally keeps raw API payloads on local
//     disk or GCS for reprocessing without refetching.
//   - Plumbing: Viper populates config from file/env (PIPELINE_ prefix), zap
//     provides structured logging, and Prometheus counters are exposed on the
//     optional metrics listener.
//
// Quick checklist:
//   - Set PIPELINE_RIOT_API_KEY and PIPELINE_DB_DSN (or use -config).
//   - Apply the schema once: lolpipeline initdb
//   - Collect: lolpipeline run
//   - SIGINT/SIGTERM stop the run between items; rerun to resume.
package main
