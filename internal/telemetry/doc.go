// Package telemetry sends exploration events to an MQTT broker.
//
// Publishing is fire-and-forget. Messages go through a bounded queue
// drained by one goroutine; when the queue is full the message is dropped
// and counted, so a slow or absent broker never stalls the exploration
// loop. Every string in a payload passes through a Redactor before it
// leaves the process.
package telemetry
