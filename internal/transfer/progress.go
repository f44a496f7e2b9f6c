package transfer

import "io"

// ProgressFunc is called as bytes arrive, with the total expected size (0
// if unknown). It runs on the Task goroutine of the host being copied.
type ProgressFunc func(host string, transferred, total int64)

type progressWriter struct {
	w           io.Writer
	host        string
	transferred int64
	total       int64
	onProgress  ProgressFunc
}

func newProgressWriter(w io.Writer, host string, total int64, fn ProgressFunc) *progressWriter {
	return &progressWriter{w: w, host: host, total: total, onProgress: fn}
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.transferred += int64(n)
	if pw.onProgress != nil {
		pw.onProgress(pw.host, pw.transferred, pw.total)
	}
	return n, err
}
