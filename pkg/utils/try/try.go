package try

// Fataler is something having `Fatal`, like *testing.T or *log.Logger.
type Fataler interface {
	Fatal(...any)
}

// Either holds a result of a call returning (T, error).
type Either[T any] interface {
	// Get returns the pair as it was given.
	Get() (T, error)

	// OrFatal returns the value when there are no error.
	// Otherwise, it calls ftl.Fatal(err) (and ftl.Helper() before that, if ftl has it).
	OrFatal(ftl Fataler) T

	// OrDefault returns the value when there are no error, or d.
	OrDefault(d T) T
}

func To[T any](value T, err error) Either[T] {
	return either[T]{value: value, err: err}
}

type either[T any] struct {
	value T
	err   error
}

func (e either[T]) Get() (T, error) {
	if e.err != nil {
		return *new(T), e.err
	}
	return e.value, nil
}

func (e either[T]) OrDefault(d T) T {
	if e.err != nil {
		return d
	}
	return e.value
}

func (e either[T]) OrFatal(ftl Fataler) T {
	if e.err == nil {
		return e.value
	}
	if h, ok := ftl.(interface{ Helper() }); ok {
		h.Helper()
	}
	ftl.Fatal(e.err)
	return *new(T)
}
