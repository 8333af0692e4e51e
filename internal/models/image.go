package models

// Image addresses an image for the recognition capabilities. Either Bytes is
// set, or the provider reads the object at Bucket/Key itself.
type Image struct {
	Bucket string
	Key    string
	Bytes  []byte
}

// Inline reports whether the image payload is carried in memory.
func (i Image) Inline() bool {
	return len(i.Bytes) > 0
}
