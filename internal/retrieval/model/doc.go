// Package model holds the value types shared by the retrieval engine:
// issues, queries, retrieved articles, coverage, the per-run state and the
// artifacts recorded for every run.
package model
