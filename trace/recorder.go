package trace

import (
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/multierr"
)

type Recorder interface {
	RecordEvent(event Event) error
	RecordFinding(finding Finding) error
	Close() error
}

type localFileRecorder struct {
	lock    sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// MakeLocalFileRecorder writes one JSON object per line to filename,
// replacing whatever was there.
func MakeLocalFileRecorder(filename string) (Recorder, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &localFileRecorder{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func (recorder *localFileRecorder) RecordEvent(event Event) error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return recorder.encoder.Encode(event)
}

func (recorder *localFileRecorder) RecordFinding(finding Finding) error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return recorder.encoder.Encode(finding)
}

func (recorder *localFileRecorder) Close() error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return multierr.Append(recorder.file.Sync(), recorder.file.Close())
}

// MemoryRecorder keeps everything it is given. It is safe for concurrent use.
type MemoryRecorder struct {
	lock     sync.Mutex
	events   []Event
	findings []Finding
}

var _ Recorder = &MemoryRecorder{}

func (recorder *MemoryRecorder) RecordEvent(event Event) error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	recorder.events = append(recorder.events, event)
	return nil
}

func (recorder *MemoryRecorder) RecordFinding(finding Finding) error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	recorder.findings = append(recorder.findings, finding)
	return nil
}

func (recorder *MemoryRecorder) Close() error { return nil }

func (recorder *MemoryRecorder) Events() []Event {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]Event(nil), recorder.events...)
}

func (recorder *MemoryRecorder) Findings() []Finding {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]Finding(nil), recorder.findings...)
}

type nopRecorder struct{}

// NopRecorder drops everything.
var NopRecorder Recorder = nopRecorder{}

func (nopRecorder) RecordEvent(Event) error     { return nil }
func (nopRecorder) RecordFinding(Finding) error { return nil }
func (nopRecorder) Close() error                { return nil }

// Tee forwards to every recorder, combining their errors.
func Tee(recorders ...Recorder) Recorder {
	return tee(recorders)
}

type tee []Recorder

func (t tee) RecordEvent(event Event) error {
	var err error
	for _, r := range t {
		err = multierr.Append(err, r.RecordEvent(event))
	}
	return err
}

func (t tee) RecordFinding(finding Finding) error {
	var err error
	for _, r := range t {
		err = multierr.Append(err, r.RecordFinding(finding))
	}
	return err
}

func (t tee) Close() error {
	var err error
	for _, r := range t {
		err = multierr.Append(err, r.Close())
	}
	return err
}
