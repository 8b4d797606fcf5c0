// Package block adds program bookkeeping to scripts that run as part of an
// observing block.
//
// A block script embeds Base and merges Schema into its own schema. When a
// program is configured, the run is wrapped in "<Type> <program> [obs id]
// [reason]: Start" and ": Done" checkpoints. BLOCK-N programs get an
// observation id from the camera image name service. When a test case is
// configured, steps wrapped in Base.Step are recorded and the results are
// uploaded to the Large File Annex after the run.
package block
