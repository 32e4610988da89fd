package notifications

import "github.com/systmms/keyrotate/internal/rotation/storage"

// Saver is the part of a history store the engine writes to
type Saver interface {
	SaveHistory(entry *storage.HistoryEntry) error
}

// Recorder saves history entries and queues a notification for each one
// that reports a change or a failure
type Recorder struct {
	next    Saver
	manager *Manager
}

// NewRecorder wraps next. A nil next only notifies.
func NewRecorder(next Saver, manager *Manager) *Recorder {
	return &Recorder{next: next, manager: manager}
}

// SaveHistory implements rotation.Recorder. The notification is queued even
// when saving fails.
func (r *Recorder) SaveHistory(entry *storage.HistoryEntry) error {
	var err error
	if r.next != nil {
		err = r.next.SaveHistory(entry)
	}
	if event, ok := EventFromEntry(entry); ok {
		r.manager.Send(event)
	}
	return err
}
