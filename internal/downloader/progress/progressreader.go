package progress

import "io"

const percentStep = 5

// Reader wraps an io.Reader and reports the cumulative bytes read. A report
// fires every interval bytes, on every 5% of a known total and once at EOF.
type Reader struct {
	reader     io.Reader
	total      int64
	interval   int64
	onProgress func(read, total int64)

	read       int64
	sinceLast  int64
	lastStep   int64
	reportedAt int64
}

// NewReader returns a progress reader. total may be unknown (<= 0), in which
// case only interval and EOF reports fire.
func NewReader(r io.Reader, total, interval int64, onProgress func(read, total int64)) *Reader {
	return &Reader{
		reader:     r,
		total:      total,
		interval:   interval,
		onProgress: onProgress,
		reportedAt: -1,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		if pr.dueByInterval() || pr.dueByPercent() {
			pr.report()
		}
	}

	if err == io.EOF && pr.reportedAt != pr.read {
		pr.report()
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}

func (pr *Reader) dueByInterval() bool {
	return pr.interval > 0 && pr.sinceLast >= pr.interval
}

func (pr *Reader) dueByPercent() bool {
	if pr.total <= 0 {
		return false
	}

	step := pr.read * 100 / pr.total / percentStep
	if step > pr.lastStep {
		pr.lastStep = step

		return true
	}

	return false
}

func (pr *Reader) report() {
	pr.sinceLast = 0
	pr.reportedAt = pr.read

	if pr.onProgress != nil {
		pr.onProgress(pr.read, pr.total)
	}
}
