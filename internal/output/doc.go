// Package output delivers rendered blocks to an audio device. The oto
// sink pulls blocks from the render callback on the device thread; the
// headless sink drives the same callback from a wall-clock ticker for
// environments without an audio device.
package output
