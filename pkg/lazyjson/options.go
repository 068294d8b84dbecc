package lazyjson

// Option is a functional option for configuring a Manager.
type Option[T any] func(*options[T])

// WithDefaultValue provides the value used when the file is missing. It is
// also the base that an existing file is decoded on top of.
func WithDefaultValue[T any](fn func() *T) Option[T] {
	return func(o *options[T]) {
		o.defaultValue = fn
	}
}
