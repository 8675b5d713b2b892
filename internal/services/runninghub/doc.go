// Package runninghub implements engine.Engine against the RunningHub
// ComfyUI OpenAPI.
//
// Attachments are uploaded first and bound to their node fields by the
// returned file name; inputs are sent as nodeInfoList entries. Responses are
// parsed with gjson because the service returns `data` in several shapes.
// Transport failures and non-2xx responses surface as
// engine.UnavailableError.
package runninghub
