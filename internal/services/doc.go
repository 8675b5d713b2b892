// Package services defines shared utilities consumed by the workflow drivers
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, sheet rows, workflow types, phases,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures carry a
//     consistent classification (transient vs permanent).
//
// External API clients live in subpackages (feishu, runninghub) and report
// failures through these markers.
package services
