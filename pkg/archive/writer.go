// Package archive receives scraped items and redirects and assembles the
// offline archive.
package archive

import "sync"

// Item is one entry of the archive.
type Item struct {
	Path     string
	Title    string
	Content  []byte
	Mimetype string
	IsFront  bool // Listed in the archive's main entries
}

// Writer is the sink every scraped page and asset ends up in.
// Implementations need not be safe for concurrent use; see Synchronized.
type Writer interface {
	Start() error
	AddItem(item Item) error
	AddRedirect(path, target string) error
	Finish() error
	SetCanFinish(ok bool)
	CanFinish() bool
}

type synchronized struct {
	mu sync.Mutex
	w  Writer
}

// Synchronized serializes every call to w behind one lock. Page handlers
// and asset workers share the returned writer.
func Synchronized(w Writer) Writer {
	if s, ok := w.(*synchronized); ok {
		return s
	}
	return &synchronized{w: w}
}

func (s *synchronized) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Start()
}

func (s *synchronized) AddItem(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.AddItem(item)
}

func (s *synchronized) AddRedirect(path, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.AddRedirect(path, target)
}

func (s *synchronized) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Finish()
}

func (s *synchronized) SetCanFinish(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.SetCanFinish(ok)
}

func (s *synchronized) CanFinish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.CanFinish()
}
