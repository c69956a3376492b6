package integrityfs

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig controls how tree audits spread verification over goroutines
type ParallelConfig struct {
	// Enabled enables parallel verification
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinFilesForParallel is the minimum number of files to use parallel processing
	// Below this threshold, sequential processing is used
	// If 0, defaults to 4
	MinFilesForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil // Nothing to validate if disabled
	}

	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinFilesForParallel < 0 {
		return errors.New("parallel min files threshold cannot be negative")
	}
	if p.MinFilesForParallel > 100000 {
		return errors.New("parallel min files threshold must not exceed 100000")
	}

	return nil
}

// DefaultParallelConfig returns the default parallel processing configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:             true,
		MaxWorkers:          runtime.NumCPU(),
		MinFilesForParallel: 4,
	}
}

// workers returns the number of goroutines to use for n jobs, 1 meaning
// sequential
func (p ParallelConfig) workers(n int) int {
	if !p.Enabled || n < p.MinFilesForParallel || n < 2 {
		return 1
	}
	w := p.MaxWorkers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > n {
		w = n
	}
	return w
}

// forEach calls fn(i) for every i in [0, n). fn reports per-item outcomes
// itself, usually into a slice indexed by i. A panic in fn is returned as an
// error after the remaining jobs have drained.
func (p ParallelConfig) forEach(n int, fn func(i int)) error {
	if n == 0 {
		return nil
	}

	numWorkers := p.workers(n)
	if numWorkers == 1 {
		return runRecovered(func() {
			for i := 0; i < n; i++ {
				fn(i)
			}
		})
	}

	var wg sync.WaitGroup
	jobChan := make(chan int, n)
	errChan := make(chan error, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				if err := runRecovered(func() { fn(idx) }); err != nil {
					select {
					case errChan <- err:
					default:
					}
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobChan <- i
	}
	close(jobChan)

	wg.Wait()
	close(errChan)

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}

// runRecovered converts a panic in f to an error
func runRecovered(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in verification worker: %v", r)
		}
	}()
	f()
	return nil
}
