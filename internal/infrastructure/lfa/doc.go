// Package lfa uploads files to the Large File Annex, the S3 bucket where
// scripts leave artefacts too large for an event (test case reports,
// snapshots). Uploaded objects are addressed by s3:// URLs.
package lfa
