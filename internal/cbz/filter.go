package cbz

// Filter decides whether an archive entry is processed.
type Filter interface {
	Accept(name string) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(name string) bool

func (f FilterFunc) Accept(name string) bool { return f(name) }

// AcceptAll accepts every entry.
var AcceptAll Filter = FilterFunc(func(string) bool { return true })
