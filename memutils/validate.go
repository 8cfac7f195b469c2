package memutils

// Validatable is implemented by anything with internal consistency checks that DebugValidate
// can run
type Validatable interface {
	Validate() error
}
