package domain

// MaxImages is the largest number of source images accepted for one batch.
const MaxImages = 10

// Image is an already prepared source image.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}
