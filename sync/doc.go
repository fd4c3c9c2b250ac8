// Package sync runs live imports outside the request path: an in-process
// queue, a worker that executes queued tasks and an interval scheduler.
package sync
