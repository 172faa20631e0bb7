// Package app composes the staking ledger.
//
// It wires the storage layer (memory or postgres) into the asset ledger, the
// price feed service and the staking engine, registers background workers
// with the lifecycle manager and exposes the result to the HTTP layer.
//
//	internal/app/
//	├── application.go   wiring, lifecycle and bootstrap
//	├── domain/          plain data types (staking, asset, pricefeed)
//	├── storage/         store interfaces, memory and postgres backends
//	├── services/        staking engine, asset ledger, price feeds
//	├── locks/           per-key mutation locks (in-process and redis)
//	├── httpapi/         REST handlers
//	├── metrics/         prometheus collectors
//	├── runtime/         process level assembly (database, redis, server)
//	└── system/          service lifecycle manager
package app
