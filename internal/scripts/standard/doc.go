// Package standard contains the telescope independent scripts: sleeping,
// muting alarms, pausing a queue, running an arbitrary command and moving
// CSCs or groups of CSCs between summary states.
//
// Scripts that talk to components chosen by configuration receive the
// salobj domain at construction and create their remotes in Configure.
package standard
