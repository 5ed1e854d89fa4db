package ir

// Artifact is a packaged archive for one unit, ready for upload.
type Artifact struct {
	UnitID     string
	Path       string
	Size       int64
	SHA256     string // hex digest of the archive bytes
	CodeSHA256 string // base64 digest, as the platform reports uploaded code
}
