package usecase

import (
	"os"
	"sync"

	"github.com/you-humble/docconv/internal/domain"
)

// Outcome is a finished job whose artifact is still being delivered.
type Outcome struct {
	Job    domain.ConversionJob
	Record domain.ConversionRecord

	File *os.File
	Size int64
	// DownloadName is the filename suggested to the client.
	DownloadName string
	ContentType  string

	once    sync.Once
	err     error
	cleanup func()
}

// Close releases the artifact and deletes the job's files. It is safe to
// call more than once; only the first call does any work.
func (o *Outcome) Close() error {
	o.once.Do(func() {
		if o.File != nil {
			o.err = o.File.Close()
		}
		if o.cleanup != nil {
			o.cleanup()
		}
	})
	return o.err
}
