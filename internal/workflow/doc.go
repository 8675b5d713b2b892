// Package workflow drives spreadsheet rows through the generation workflows.
//
// ImageDriver and VideoDriver decide eligibility from a row's markers and the
// options fixed at construction; nothing here reads global state. The Runner
// fetches rows, drives eligible ones concurrently (bounded by
// workflow.max_concurrent), and writes results back through the sheet. Per
// row the image task always runs before the video task, so a composite
// produced in this pass feeds the video workflow directly.
//
// Every error inside a drive is converted into a lifecycle Fail at the driver
// boundary; only task store failures escape a pass. Runner also implements
// recovery.Finisher so startup recovery can store artifacts, continue into
// phase 2, and publish results with the same code paths.
package workflow
