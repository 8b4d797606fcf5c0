// Package scripts registers every standard script under its path name,
// e.g. "maintel/mtdome/slew_dome", and builds instances with their
// handles.
//
// Handles are created by the factories from the shared salobj.Domain,
// so a script never constructs one lazily during Configure.
package scripts
