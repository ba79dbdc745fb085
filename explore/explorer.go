// Package explore drives the protocol model through its state space, either
// exhaustively or by concurrent random walks, checking properties after
// every transition and reporting violations as findings.
package explore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/DistCompiler/pgo/authdh"
	"github.com/DistCompiler/pgo/authdh/invariant"
	"github.com/DistCompiler/pgo/authdh/session"
	"github.com/DistCompiler/pgo/authdh/term"
	"github.com/DistCompiler/pgo/authdh/trace"
)

var (
	ErrStateLimit = errors.New("state limit reached")
	ErrDepthLimit = errors.New("depth limit reached")
	ErrStoreInUse = errors.New("store already holds visited states")

	// returned internally to unwind a search once the first finding is in
	errStopped = errors.New("stopped on first finding")
)

// Report summarises one exploration.
type Report struct {
	States      int
	Transitions int
	MaxDepth    int
	Walks       int
	// Cutoff is ErrStateLimit or ErrDepthLimit when a bound cut the
	// exploration short, nil when it ran to completion.
	Cutoff   error
	Findings []trace.Finding
}

// Complete holds when every reachable state (or every walk) was explored.
func (r Report) Complete() bool {
	return r.Cutoff == nil
}

// Satisfied holds when no property was found violated.
func (r Report) Satisfied() bool {
	return len(r.Findings) == 0
}

func (r Report) String() string {
	return fmt.Sprintf("states=%d transitions=%d depth=%d walks=%d findings=%d complete=%t",
		r.States, r.Transitions, r.MaxDepth, r.Walks, len(r.Findings), r.Complete())
}

type Explorer struct {
	env     *session.Environment
	machine *authdh.Machine
	checker *invariant.Checker

	maxDepth    int
	maxStates   int
	properties  []invariant.Property
	recorder    trace.Recorder
	store       Store
	vocabulary  []term.Term
	leakNonces  bool
	workers     int
	seed        int64
	stopOnFirst bool
	makeChooser ChooserMaker
	log         *logrus.Logger
}

type ConfigFn func(e *Explorer)

// WithMaxDepth bounds the length of explored traces. Zero means unbounded.
func WithMaxDepth(depth int) ConfigFn {
	return func(e *Explorer) {
		e.maxDepth = depth
	}
}

// WithMaxStates bounds the number of distinct states. Zero means unbounded.
func WithMaxStates(states int) ConfigFn {
	return func(e *Explorer) {
		e.maxStates = states
	}
}

func WithProperties(properties ...invariant.Property) ConfigFn {
	return func(e *Explorer) {
		e.properties = properties
	}
}

func WithRecorder(recorder trace.Recorder) ConfigFn {
	return func(e *Explorer) {
		e.recorder = recorder
	}
}

func WithStore(store Store) ConfigFn {
	return func(e *Explorer) {
		e.store = store
	}
}

// WithVocabulary replaces the default set of messages the intruder may
// learn.
func WithVocabulary(vocabulary ...term.Term) ConfigFn {
	return func(e *Explorer) {
		e.vocabulary = vocabulary
	}
}

// WithLeakedNonces adds every run's private nonce to the default
// vocabulary.
func WithLeakedNonces(leak bool) ConfigFn {
	return func(e *Explorer) {
		e.leakNonces = leak
	}
}

func WithWorkers(workers int) ConfigFn {
	return func(e *Explorer) {
		e.workers = workers
	}
}

func WithSeed(seed int64) ConfigFn {
	return func(e *Explorer) {
		e.seed = seed
	}
}

func WithChooser(maker ChooserMaker) ConfigFn {
	return func(e *Explorer) {
		e.makeChooser = maker
	}
}

func WithStopOnFirst(stop bool) ConfigFn {
	return func(e *Explorer) {
		e.stopOnFirst = stop
	}
}

func WithLogger(log *logrus.Logger) ConfigFn {
	return func(e *Explorer) {
		e.log = log
	}
}

func New(env *session.Environment, configFns ...ConfigFn) *Explorer {
	e := &Explorer{
		env:         env,
		recorder:    trace.NopRecorder,
		workers:     1,
		makeChooser: MakeRandomChooser,
		log:         logrus.StandardLogger(),
	}
	for _, fn := range configFns {
		fn(e)
	}
	if e.store == nil {
		e.store = NewMemoryStore()
	}
	if e.vocabulary == nil {
		e.vocabulary = DefaultVocabulary(env, e.leakNonces)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	e.machine = authdh.NewMachine(env, authdh.WithLogger(e.log))
	e.checker = invariant.NewChecker(env, e.properties...)
	return e
}

// DefaultVocabulary is what the intruder can put on the wire: every run's
// public exponential, the exponentials of the attacker's own exponents,
// and with leak set, the runs' private nonces.
func DefaultVocabulary(env *session.Environment, leak bool) []term.Term {
	seen := term.MakeSet()
	var out []term.Term
	add := func(t term.Term) {
		if !seen.Has(t) {
			seen = seen.Add(t)
			out = append(out, t)
		}
	}
	for _, run := range env.Runs() {
		add(run.ID.Public())
		if peer, ok := env.PeerOf(run.ID); ok {
			if n, isAttacker := peer.Attacker(); isAttacker {
				add(term.MakePublic(term.MakeNumber(n)))
			}
		}
	}
	if leak {
		for _, run := range env.Runs() {
			add(run.ID.Nonce())
		}
	}
	return out
}

func (e *Explorer) Machine() *authdh.Machine {
	return e.machine
}

func (e *Explorer) Vocabulary() []term.Term {
	return e.vocabulary
}

// Close releases the store and the recorder.
func (e *Explorer) Close() error {
	return multierr.Append(e.store.Close(), e.recorder.Close())
}

type node struct {
	state  authdh.State
	parent *node
	via    authdh.Transition
	depth  int
}

func (n *node) events() []trace.Event {
	events := make([]trace.Event, n.depth)
	for cur := n; cur.parent != nil; cur = cur.parent {
		events[cur.depth-1] = trace.Event{Step: cur.depth, Transition: cur.via, State: cur.state}
	}
	return events
}

// findings collects violations, reporting each property at most once
// per state.
type findings struct {
	lock     sync.Mutex
	seen     map[string]bool
	findings []trace.Finding
}

func (f *findings) add(e *Explorer, violations []*invariant.Violation, s authdh.State, events []trace.Event) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	var err error
	for _, v := range violations {
		key := fmt.Sprintf("%s/%x/%s", v.Property, s.Fingerprint(), v.Message)
		if f.seen[key] {
			continue
		}
		f.seen[key] = true
		finding := trace.Finding{Property: v.Property, Message: v.Message, State: s, Trace: events}
		f.findings = append(f.findings, finding)
		e.log.WithFields(logrus.Fields{
			"package":  "explore",
			"property": v.Property,
			"depth":    len(events),
		}).Warn(v.Message)
		err = multierr.Append(err, e.recorder.RecordFinding(finding))
	}
	return err
}

func newFindings() *findings {
	return &findings{seen: make(map[string]bool)}
}

// Exhaustive explores every state reachable from the initial state
// breadth first, so each finding comes with a shortest trace. Bounds stop
// the search early and are reported in Report.Cutoff, not as errors. The
// store must start empty: a state it already holds would never be checked.
func (e *Explorer) Exhaustive(ctx context.Context) (report Report, err error) {
	found := newFindings()
	defer func() {
		report.Findings = found.findings
		e.finished(&report, "exhaustive")
	}()

	e.log.WithFields(logrus.Fields{
		"package":    "explore",
		"runs":       len(e.env.Runs()),
		"vocabulary": len(e.vocabulary),
		"properties": len(e.checker.Properties()),
	}).Info("exhaustive exploration started")

	if n := e.store.Len(); n > 0 {
		return report, fmt.Errorf("%w: %d states", ErrStoreInUse, n)
	}
	root := &node{state: authdh.NewState()}
	if _, err := e.store.Visit(root.state); err != nil {
		return report, err
	}
	report.States = 1
	if err := e.checker.Initial(root.state); err != nil {
		if recErr := found.add(e, invariant.Violations(err), root.state, nil); recErr != nil {
			return report, recErr
		}
		if e.stopOnFirst {
			return report, nil
		}
	}

	queue := []*node{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		cur := queue[0]
		queue = queue[1:]
		if e.maxDepth > 0 && cur.depth >= e.maxDepth {
			if len(e.machine.Enabled(cur.state, e.vocabulary)) > 0 {
				report.Cutoff = ErrDepthLimit
			}
			continue
		}
		for _, t := range e.machine.Enabled(cur.state, e.vocabulary) {
			next, ok := e.machine.Apply(cur.state, t)
			if !ok {
				continue
			}
			report.Transitions++
			child := &node{state: next, parent: cur, via: t, depth: cur.depth + 1}
			if err := e.checker.Step(cur.state, t, next); err != nil {
				if recErr := found.add(e, invariant.Violations(err), next, child.events()); recErr != nil {
					return report, recErr
				}
				if e.stopOnFirst {
					return report, nil
				}
			}
			fresh, err := e.store.Visit(next)
			if err != nil {
				return report, err
			}
			if !fresh {
				continue
			}
			report.States++
			if child.depth > report.MaxDepth {
				report.MaxDepth = child.depth
			}
			if e.maxStates > 0 && report.States >= e.maxStates {
				report.Cutoff = ErrStateLimit
				return report, nil
			}
			queue = append(queue, child)
		}
	}
	return report, nil
}

// Simulate runs independent random walks from the initial state, spread
// over the configured number of workers. Every step of every walk is
// recorded as an event.
func (e *Explorer) Simulate(ctx context.Context, walks int) (Report, error) {
	var (
		report     Report
		reportLock sync.Mutex
	)
	found := newFindings()

	group, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	group.Go(func() error {
		defer close(jobs)
		for walk := 0; walk < walks; walk++ {
			select {
			case jobs <- walk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for worker := 0; worker < e.workers; worker++ {
		chooser := e.makeChooser(e.seed + int64(worker))
		group.Go(func() error {
			for range jobs {
				partial, err := e.walk(ctx, chooser, found)
				reportLock.Lock()
				report.Walks++
				report.States += partial.States
				report.Transitions += partial.Transitions
				if partial.MaxDepth > report.MaxDepth {
					report.MaxDepth = partial.MaxDepth
				}
				if partial.Cutoff != nil {
					report.Cutoff = partial.Cutoff
				}
				reportLock.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := group.Wait()
	report.Findings = found.findings
	if errors.Is(err, errStopped) {
		err = nil
	}
	e.finished(&report, "simulate")
	return report, err
}

func (e *Explorer) walk(ctx context.Context, chooser Chooser, found *findings) (Report, error) {
	var report Report
	s := authdh.NewState()
	if fresh, err := e.store.Visit(s); err != nil {
		return report, err
	} else if fresh {
		report.States++
	}
	if err := e.checker.Initial(s); err != nil {
		if recErr := found.add(e, invariant.Violations(err), s, nil); recErr != nil {
			return report, recErr
		}
		if e.stopOnFirst {
			return report, errStopped
		}
	}
	var events []trace.Event
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		options := e.machine.Enabled(s, e.vocabulary)
		if len(options) == 0 {
			return report, nil
		}
		if e.maxDepth > 0 && len(events) >= e.maxDepth {
			report.Cutoff = ErrDepthLimit
			return report, nil
		}
		t := options[chooser.Choose(s, options)]
		next, ok := e.machine.Apply(s, t)
		if !ok {
			return report, fmt.Errorf("enabled transition %v was refused", t)
		}
		report.Transitions++
		event := trace.Event{Step: len(events) + 1, Transition: t, State: next}
		events = append(events, event)
		if len(events) > report.MaxDepth {
			report.MaxDepth = len(events)
		}
		if err := e.recorder.RecordEvent(event); err != nil {
			return report, err
		}
		if err := e.checker.Step(s, t, next); err != nil {
			trail := append([]trace.Event(nil), events...)
			if recErr := found.add(e, invariant.Violations(err), next, trail); recErr != nil {
				return report, recErr
			}
			if e.stopOnFirst {
				return report, errStopped
			}
		}
		fresh, err := e.store.Visit(next)
		if err != nil {
			return report, err
		}
		if fresh {
			report.States++
		}
		s = next
	}
}

func (e *Explorer) finished(report *Report, mode string) {
	fields := logrus.Fields{
		"package":     "explore",
		"mode":        mode,
		"states":      report.States,
		"transitions": report.Transitions,
		"depth":       report.MaxDepth,
		"findings":    len(report.Findings),
	}
	if report.Cutoff != nil {
		fields["cutoff"] = report.Cutoff.Error()
	}
	e.log.WithFields(fields).Info("exploration finished")
}
