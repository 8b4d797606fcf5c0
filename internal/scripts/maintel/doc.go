// Package maintel contains the scripts of the Simonyi Survey Telescope:
// dome, mount, rotator, mirror, hexapod and laser tracker operations on
// the main telescope control system.
//
// Scripts receive the MTCS handle, and the LaserTracker remote where they
// need it, at construction. Block scripts additionally take block.Deps.
package maintel
