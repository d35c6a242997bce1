// Package device is the camera boundary of the exploration loop.
//
// Vendor protocols live behind the Driver interface; connectors are looked
// up by brand through a registry (Register / Connect). The Resilient
// wrapper adds what an unreliable camera needs on top: bounded capture
// retries with image verification, bounded position reads, and per
// operation bookkeeping.
//
// Captured images are named by Label, which encodes the camera position
// and the capture time in the file stem:
//
//	<pan>_<tilt>_<zoom>_<20060102-150405.000000>.jpg
//
// so a later step can recover where an image was taken with ParseLabel.
package device
