package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/scan"
)

type progressPrinter struct {
	out      io.Writer
	total    int
	name     string
	mu       sync.Mutex
	ok       int
	fail     int
	duration float64
	running  map[string]struct{}
	updates  chan struct{}
	done     chan struct{}
	exited   chan struct{}
	started  bool
	stopOnce sync.Once
}

func newProgressPrinter(out io.Writer, total int, name string) *progressPrinter {
	if total <= 0 {
		total = 1
	}
	return &progressPrinter{
		out:     out,
		total:   total,
		name:    name,
		running: make(map[string]struct{}),
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (p *progressPrinter) Start() {
	p.started = true
	go p.loop()
}

// Observe is a scan.Options observer. Disabled probes are not counted.
func (p *progressPrinter) Observe(ev scan.ProbeEvent) {
	switch ev.Phase {
	case scan.PhaseStarted:
		p.mu.Lock()
		p.running[ev.Probe] = struct{}{}
		p.mu.Unlock()
		p.notify()
	case scan.PhaseFinished:
		if ev.Kind == scan.KindDisabled {
			return
		}
		p.mu.Lock()
		delete(p.running, ev.Probe)
		p.mu.Unlock()
		p.Increment(ev.Kind == scan.KindSuccess, ev.Duration.Seconds())
	}
}

func (p *progressPrinter) Increment(success bool, duration float64) {
	p.mu.Lock()
	if success {
		p.ok++
	} else {
		p.fail++
	}
	p.duration += duration
	p.mu.Unlock()
	p.notify()
}

func (p *progressPrinter) notify() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}

func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		if p.started {
			<-p.exited
		}
		p.mu.Lock()
		fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", 80))
		p.mu.Unlock()
		p.print()
		fmt.Fprintln(p.out)
	})
}

func (p *progressPrinter) loop() {
	defer close(p.exited)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) print() {
	p.mu.Lock()
	defer p.mu.Unlock()

	completed := p.ok + p.fail
	if completed > p.total {
		p.total = completed
	}

	percent := (float64(completed) / float64(p.total)) * 100
	avg := 0.0
	if completed > 0 {
		avg = p.duration / float64(completed)
	}

	line := fmt.Sprintf("\r[%s] Progress: %d/%d (%.1f%%) OK:%d Fail:%d Avg:%.2fs Running:%d",
		p.name, completed, p.total, percent, p.ok, p.fail, avg, len(p.running))
	fmt.Fprintf(p.out, "%s", line)
}
