// Package report renders analysis results as Markdown narratives for the
// CLI: time window explanations, subject traces, context switch and stall
// reports. Rendering is pure string building; all querying happens in the
// caller.
package report
