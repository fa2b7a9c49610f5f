package speedtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var ErrInvalidPayloadSize = errors.New("upload payload size must be > 0")

type Direction int

const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Outcome tells how a transfer call ended.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed out"
	default:
		return "failed"
	}
}

// TransferResult is what one measurement call observed.
type TransferResult struct {
	Direction  Direction
	Host       string
	Bytes      uint64
	Elapsed    time.Duration
	StatusCode int
	Outcome    Outcome
	// Err holds the transport or setup error, nil when Completed.
	Err error
}

// Mbps returns the bandwidth estimate in megabits per second. ok is false
// when no estimate is available: nothing moved, no time elapsed, the call
// failed, or a completed call did not get HTTP 200. A timed out call is
// scored on the bytes moved before the deadline.
func (r *TransferResult) Mbps() (mbps float64, ok bool) {
	br, ok := r.Rate()
	if !ok {
		return 0, false
	}
	return br.Mbps(), true
}

// Rate returns the estimate as bytes per second.
func (r *TransferResult) Rate() (ByteRate, bool) {
	if r == nil {
		return 0, false
	}
	secs := r.Elapsed.Seconds()
	if r.Bytes == 0 || secs <= 0 {
		return 0, false
	}
	switch r.Outcome {
	case Completed:
		if r.StatusCode != http.StatusOK {
			return 0, false
		}
	case TimedOut:
	default:
		return 0, false
	}
	return ByteRate(float64(r.Bytes) / secs), true
}

func (r *TransferResult) String() string {
	if mbps, ok := r.Mbps(); ok {
		return fmt.Sprintf("%s %.2f Mbps (%.2f MB in %.2fs, %s)",
			r.Direction, mbps, float64(r.Bytes)/MiB, r.Elapsed.Seconds(), r.Outcome)
	}
	if r.Err != nil {
		return fmt.Sprintf("%s unavailable: %s: %v", r.Direction, r.Outcome, r.Err)
	}
	return fmt.Sprintf("%s unavailable: %s, status %d, %d bytes", r.Direction, r.Outcome, r.StatusCode, r.Bytes)
}

// finish stamps the elapsed time and classifies err.
func (r *TransferResult) finish(ctx context.Context, start time.Time, err error) {
	r.Elapsed = time.Since(start)
	switch {
	case err == nil:
		r.Outcome = Completed
	case isTimeout(ctx, err):
		r.Outcome = TimedOut
		r.Err = err
	default:
		r.Outcome = Failed
		r.Err = err
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// meter counts bytes as they move and feeds the progress tracker.
type meter struct {
	ctx     context.Context
	total   atomic.Int64
	tracker *progressTracker
	limiter *rate.Limiter
}

func (m *meter) add(n int) {
	if n <= 0 {
		return
	}
	m.tracker.update(m.total.Add(int64(n)))
}

func (m *meter) wait(n int) error {
	if m.limiter == nil || n <= 0 {
		return nil
	}
	err := m.limiter.WaitN(m.ctx, n)
	if err != nil {
		if _, ok := m.ctx.Deadline(); ok && m.ctx.Err() == nil {
			// the tokens would arrive past the deadline; the window ends there
			<-m.ctx.Done()
			return m.ctx.Err()
		}
	}
	return err
}

// drain reads r to EOF counting every byte.
func (m *meter) drain(r io.Reader) error {
	bufP := blackHolePool.Get().(*[]byte)
	defer blackHolePool.Put(bufP)
	buf := *bufP
	for {
		if err := m.wait(len(buf)); err != nil {
			return err
		}
		n, err := r.Read(buf)
		m.add(n)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// meteredReader counts bytes handed to the transport.
type meteredReader struct {
	r io.Reader
	m *meter
}

func (mr *meteredReader) Read(b []byte) (int, error) {
	if len(b) > readChunkSize {
		b = b[:readChunkSize]
	}
	if err := mr.m.wait(len(b)); err != nil {
		return 0, err
	}
	n, err := mr.r.Read(b)
	mr.m.add(n)
	return n, err
}

func (s *Speedtest) newLimiter() *rate.Limiter {
	if s.config.RateLimit <= 0 {
		return nil
	}
	burst := int(s.config.RateLimit)
	if burst < readChunkSize {
		burst = readChunkSize
	}
	return rate.NewLimiter(rate.Limit(s.config.RateLimit), burst)
}

func (s *Speedtest) transferURL(host, path string) string {
	return "http://" + host + path
}

// MeasureDownload fetches the large test object from host and scores the
// bytes received before completion or deadline. deadline <= 0 uses the
// configured transfer timeout; progress may be nil.
func (s *Speedtest) MeasureDownload(ctx context.Context, host string, deadline time.Duration, progress ProgressFunc) *TransferResult {
	result := &TransferResult{Direction: Download, Host: host}
	if deadline <= 0 {
		deadline = s.config.TransferTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.transferURL(host, s.config.DownloadPath), nil)
	if err != nil {
		result.finish(ctx, start, err)
		return result
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept-Encoding", "identity")

	dbg.Printf("download: GET %s\n", req.URL)
	resp, err := s.doer.Do(req)
	if err != nil {
		result.finish(ctx, start, err)
		return result
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode

	m := &meter{
		ctx:     ctx,
		tracker: newProgressTracker(Download, resp.ContentLength, progress),
		limiter: s.newLimiter(),
	}
	err = m.drain(resp.Body)
	result.Bytes = uint64(m.total.Load())
	result.finish(ctx, start, err)
	dbg.Printf("download: %s\n", result)
	return result
}

// MeasureUpload posts size bytes of generated payload to host and scores the
// bytes sent before completion or deadline. size 0 uses the configured
// upload size; a negative size yields an unavailable result.
func (s *Speedtest) MeasureUpload(ctx context.Context, host string, size int64, deadline time.Duration, progress ProgressFunc) *TransferResult {
	result := &TransferResult{Direction: Upload, Host: host}
	if size == 0 {
		size = s.config.UploadSize
	}
	if deadline <= 0 {
		deadline = s.config.TransferTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	if size < 0 {
		result.finish(ctx, start, ErrInvalidPayloadSize)
		return result
	}

	m := &meter{
		ctx:     ctx,
		tracker: newProgressTracker(Upload, size, progress),
		limiter: s.newLimiter(),
	}
	body := &meteredReader{r: NewRepeatReader(size), m: m}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.transferURL(host, s.config.UploadPath), body)
	if err != nil {
		result.finish(ctx, start, err)
		return result
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", s.config.UserAgent)

	dbg.Printf("upload: POST %s, %d bytes\n", req.URL, size)
	resp, err := s.doer.Do(req)
	if err == nil {
		result.StatusCode = resp.StatusCode
		_, err = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	result.Bytes = uint64(m.total.Load())
	result.finish(ctx, start, err)
	dbg.Printf("upload: %s\n", result)
	return result
}

// MeasureDownload uses defaultClient to measure download bandwidth.
func MeasureDownload(ctx context.Context, host string, deadline time.Duration, progress ProgressFunc) *TransferResult {
	return defaultClient.MeasureDownload(ctx, host, deadline, progress)
}

// MeasureUpload uses defaultClient to measure upload bandwidth.
func MeasureUpload(ctx context.Context, host string, size int64, deadline time.Duration, progress ProgressFunc) *TransferResult {
	return defaultClient.MeasureUpload(ctx, host, size, deadline, progress)
}
