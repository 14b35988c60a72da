package log

import "github.com/sirupsen/logrus"

// BadgerAdapter routes badger's internal logging through logrus.
// Badger is chatty at info level, so info lines are demoted to debug.
type BadgerAdapter struct {
	*logrus.Entry
}

// NewBadgerAdapter creates a new adapter tagged with the cache component.
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry.WithField("component", "badger")}
}

func (l *BadgerAdapter) Errorf(f string, v ...interface{})   { l.Entry.Errorf(f, v...) }
func (l *BadgerAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warningf(f, v...) }
func (l *BadgerAdapter) Infof(f string, v ...interface{})    { l.Entry.Debugf(f, v...) }
func (l *BadgerAdapter) Debugf(f string, v ...interface{})   { l.Entry.Debugf(f, v...) }
