package core

// Notifier receives the human-readable status notices emitted on every
// state transition and error. The surrounding UI decides how to render
// them; no transition is silent.
type Notifier interface {
	Notice(text string)
}

// NoticeFunc adapts a plain function to Notifier.
type NoticeFunc func(text string)

func (f NoticeFunc) Notice(text string) { f(text) }
