// Package core provides the storage and retrieval engine for vecmem.
//
// A Store owns one SQLite file holding a single vectors table (id, embedding,
// metadata, created_at). Embeddings of different dimensionality may coexist;
// a query only ever sees rows whose dimensionality matches its own.
//
// # Key Components
//
//   - Store: session lifecycle (Open, Close), Count and Clear.
//   - Sanitize: rejects empty vectors and zeroes NaN/Inf components before they reach storage or a query.
//   - Save: batched upserts that report per-record failures instead of aborting.
//   - BuildPredicate: dimension guard, metadata equality and keyword filters shared by every read path.
//   - Query: tiered retrieval (native similarity function, distance function, unscored fallback) with one relaxed retry.
//   - ResolveThreshold: the similarity cutoff policy used when callers do not pass one.
//   - CheckExisting: batched existence lookups for deduplicating imports.
//   - Dump, Import and Backup: JSON Lines export and re-import, file copies.
//   - AnalyzeDimensions: how many vectors exist per dimensionality.
//
// Retrieval is a brute-force scan. It is meant for tens of thousands of
// vectors; Count logs a warning once the table grows past Config.SoftRowLimit.
package core
