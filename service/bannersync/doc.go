// Package bannersync derives what the billboard's banner slot shows from the
// logo manifest: the rotation of active logos whose schedules cover the
// current time, the loop duration, and which logo is on screen.
package bannersync
