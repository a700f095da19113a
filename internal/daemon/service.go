package daemon

// ServiceController drives an installed OS background service.
type ServiceController interface {
	Installed(name string) bool
	Start(name string) error
	Stop(name string) error
	Running(name string) (bool, error)
}
