package stillsuit

type options struct {
	session Session
	locator Locator
	logger  QueryLogger
}

// Option configures a repository
type Option func(*options)

// WithSession pins the repository to s. The repository never owns s,
// whoever created it keeps managing its lifetime.
func WithSession(s Session) Option {
	return func(o *options) {
		o.session = s
	}
}

// WithLocator discovers an external session once, at construction.
// The first session returned is used; an empty result falls back to the ambient unit of work.
func WithLocator(l Locator) Option {
	return func(o *options) {
		o.locator = l
	}
}

// WithLogger reports every repository operation through l
func WithLogger(l QueryLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}
