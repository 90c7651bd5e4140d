// Package batch runs face detection over a directory of images with a bounded number
// of concurrent detection calls, retrying transient failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/esimov/facemerge/detect"
	"github.com/esimov/facemerge/utils"
)

// DefaultConcurrency is the number of detection calls allowed in flight.
const DefaultConcurrency = 4

// Decision is the answer of the soft cap callback.
type Decision int

// Soft cap decisions.
const (
	Continue Decision = iota
	Abort
)

// State is the lifecycle stage of an image path.
type State int

// Path states. Completed and PermanentFailure are terminal; Skipped marks paths
// never finished because the run was aborted.
const (
	Pending State = iota
	InFlight
	TransientFailure
	Completed
	PermanentFailure
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in flight"
	case TransientFailure:
		return "transient failure"
	case Completed:
		return "completed"
	case PermanentFailure:
		return "permanent failure"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event describes the settlement of one detection attempt.
type Event struct {
	Path    string
	State   State
	Attempt int
	Faces   int
	Err     error
}

// IOError reports an image file which could not be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("unable to read %s: %v", e.Path, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// Failure is a permanently failed path.
type Failure struct {
	Path string
	Err  error
}

// Report is the outcome of a run.
type Report struct {
	Aggregate             *Aggregate
	PermanentFailureCount int
	Failures              []Failure
	// Skipped lists the paths left unfinished by an aborted run.
	Skipped      []string
	Retries      int
	PeakInFlight int
	Aborted      bool
	Elapsed      time.Duration
	States       map[string]State
}

// Options tunes a Runner. The zero value is usable.
type Options struct {
	// Extensions of the scanned files, case-insensitive. Defaults to DefaultExtensions.
	Extensions []string
	// Concurrency is the maximum number of detection calls in flight.
	Concurrency int
	// SoftCap is the number of distinct paths admitted before OnSoftCap is consulted. Zero disables it.
	SoftCap int
	// OnSoftCap is invoked once per run, when the soft cap is reached and work is left.
	// A nil callback continues.
	OnSoftCap func(admitted int) Decision
	// Backoff returns the retry policy of a single path.
	Backoff func() backoff.BackOff
	// OnSettle is called from the dispatching goroutine after every attempt.
	OnSettle func(Event)
	Logger   *log.Logger
}

// ExponentialBackoff returns a policy factory which never gives up.
func ExponentialBackoff(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// Runner detects the faces of every image found in a directory.
type Runner struct {
	Detector detect.Detector
	Options
}

// New returns a runner with the defaults applied.
func New(det detect.Detector, opts Options) *Runner {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff(100*time.Millisecond, 5*time.Second)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Runner{Detector: det, Options: opts}
}

type task struct {
	path    string
	attempt int
}

type outcome struct {
	path    string
	attempt int
	faces   []detect.Face
	err     error
	state   State
}

// Run scans dir and detects the faces of every matching image.
//
// At most Concurrency detections run at the same time. A path whose detection failed with a
// retryable error is dispatched again once its backoff elapsed; any other failure is permanent.
// Cancelling ctx, like an Abort decision, stops dispatching: in-flight detections settle,
// the remaining paths are reported as skipped. An error is returned only if dir cannot be scanned.
func (r *Runner) Run(ctx context.Context, dir string) (*Report, error) {
	if r.Detector == nil {
		return nil, errors.New("no detector configured")
	}
	r = New(r.Detector, r.Options)

	paths, err := Scan(dir, r.Extensions)
	if err != nil {
		return nil, err
	}
	return r.RunPaths(ctx, paths), nil
}

// RunPaths detects the faces of the given image paths. Duplicate paths are processed once.
func (r *Runner) RunPaths(ctx context.Context, paths []string) *Report {
	r = New(r.Detector, r.Options)
	start := time.Now()

	agg := NewAggregate()
	report := &Report{Aggregate: agg, States: make(map[string]State, len(paths))}

	var pending []string
	for _, p := range paths {
		if _, dup := report.States[p]; dup {
			continue
		}
		report.States[p] = Pending
		pending = append(pending, p)
	}

	n := r.Concurrency
	tasks := make(chan task)
	results := make(chan outcome, n)
	// Every path has at most one armed timer, so retry sends never block.
	retry := make(chan string, len(pending))

	// The detection capability has no cancellation: in-flight calls settle after an abort.
	detCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for t := range tasks {
				results <- r.process(detCtx, agg, t)
			}
		}()
	}

	var (
		inFlight int
		stopping bool
		asked    bool
		done     = ctx.Done()
		admitted = make(map[string]struct{})
		attempts = make(map[string]int)
		policies = make(map[string]backoff.BackOff)
		timers   = make(map[string]*time.Timer)
	)

	stop := func() {
		if stopping {
			return
		}
		stopping = true
		report.Aborted = true
		for p, t := range timers {
			// A timer which already fired delivers on the retry channel.
			if t.Stop() {
				delete(timers, p)
				report.States[p] = Skipped
			}
		}
	}

	for {
		var (
			sendCh chan task
			next   task
		)
		if !stopping && len(pending) > 0 && inFlight < n {
			p := pending[0]
			if _, seen := admitted[p]; !seen && r.SoftCap > 0 && !asked && len(admitted) >= r.SoftCap {
				asked = true
				if r.OnSoftCap != nil && r.OnSoftCap(len(admitted)) == Abort {
					r.Logger.Printf("soft cap of %d images reached, stopping", r.SoftCap)
					stop()
					continue
				}
			}
			sendCh = tasks
			next = task{path: p, attempt: attempts[p] + 1}
		}
		if inFlight == 0 && len(timers) == 0 && (stopping || len(pending) == 0) {
			break
		}

		select {
		case sendCh <- next:
			pending = pending[1:]
			admitted[next.path] = struct{}{}
			attempts[next.path] = next.attempt
			report.States[next.path] = InFlight
			inFlight++
			report.PeakInFlight = utils.Max(report.PeakInFlight, inFlight)

		case res := <-results:
			inFlight--
			if res.state == TransientFailure {
				report.Retries++
				delay := r.nextDelay(policies, res)
				switch {
				case delay == backoff.Stop:
					res.state = PermanentFailure
					agg.RecordFailure(res.path, res.err)
				case stopping:
					res.state = Skipped
				default:
					path := res.path
					r.Logger.Printf("retrying %s in %v: %v", path, delay, res.err)
					timers[path] = time.AfterFunc(delay, func() { retry <- path })
				}
			}
			report.States[res.path] = res.state
			if r.OnSettle != nil {
				r.OnSettle(Event{
					Path:    res.path,
					State:   res.state,
					Attempt: res.attempt,
					Faces:   len(res.faces),
					Err:     res.err,
				})
			}

		case p := <-retry:
			delete(timers, p)
			if stopping {
				report.States[p] = Skipped
				continue
			}
			report.States[p] = Pending
			pending = append(pending, p)

		case <-done:
			done = nil
			r.Logger.Printf("run cancelled: %v", ctx.Err())
			stop()
		}
	}

	close(tasks)
	wg.Wait()

	for _, p := range pending {
		report.States[p] = Skipped
	}
	for p, s := range report.States {
		if s == Skipped {
			report.Skipped = append(report.Skipped, p)
		}
	}
	sort.Strings(report.Skipped)

	report.Failures = agg.Failures()
	report.PermanentFailureCount = agg.FailureCount()
	report.Elapsed = time.Since(start)
	return report
}

// nextDelay returns the wait before the next attempt of a transiently failed path.
// The delay honours the backend's Retry-After hint.
func (r *Runner) nextDelay(policies map[string]backoff.BackOff, res outcome) time.Duration {
	b, ok := policies[res.path]
	if !ok {
		b = r.Backoff()
		policies[res.path] = b
	}
	d := b.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	return utils.Max(d, detect.RetryAfter(res.err))
}

// process runs one detection attempt. Successes and permanent failures are recorded
// into the aggregate by the worker itself.
func (r *Runner) process(ctx context.Context, agg *Aggregate, t task) outcome {
	res := outcome{path: t.path, attempt: t.attempt}

	data, err := os.ReadFile(t.path)
	if err != nil {
		res.err = &IOError{Path: t.path, Err: err}
		res.state = PermanentFailure
		agg.RecordFailure(t.path, res.err)
		return res
	}

	faces, err := r.Detector.Detect(ctx, data)
	switch {
	case err == nil:
		res.faces = faces
		res.state = Completed
		agg.Record(t.path, faces)
	case detect.IsRetryable(err):
		res.err = err
		res.state = TransientFailure
	default:
		res.err = err
		res.state = PermanentFailure
		agg.RecordFailure(t.path, err)
	}
	return res
}
