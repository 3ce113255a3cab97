package rest

import (
	"fmt"
	"io"
)

// Upload describes one outgoing attachment.
type Upload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// Rejection names an attachment refused before any network call was made.
type Rejection struct {
	Filename string
	Reason   string
}

// ValidateUploads splits a batch into files that may be sent and per-file
// rejections. Oversized or empty-named files are dropped; the rest of the
// batch still proceeds.
func ValidateUploads(files []Upload, maxSize int64) ([]Upload, []Rejection) {
	var ok []Upload
	var rejected []Rejection
	for _, f := range files {
		switch {
		case f.Filename == "":
			rejected = append(rejected, Rejection{Filename: f.Filename, Reason: "missing filename"})
		case maxSize > 0 && f.Size > maxSize:
			rejected = append(rejected, Rejection{
				Filename: f.Filename,
				Reason:   fmt.Sprintf("exceeds %dMB limit", maxSize>>20),
			})
		default:
			ok = append(ok, f)
		}
	}
	return ok, rejected
}
