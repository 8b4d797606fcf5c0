// Package imageserver is a client for the camera image name service, which
// hands out observation ids. Block scripts use it to tag a BLOCK program
// execution with an id the camera also knows about.
//
//	c := imageserver.New(cfg.ImageServerURL(), cfg.GetImageServerTimeout())
//	ids, err := c.NextObsIDs(ctx, "Block", 123, 1)
package imageserver
