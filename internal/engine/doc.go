// Package engine defines the contract for the external generation engine:
// submit a job, poll it by ID, and fetch the artifacts it produced.
//
// The RunningHub client in services/runninghub is the production
// implementation. Mock is an in-process engine used by --debug runs and by
// tests; its outcomes can be scripted per job.
package engine
