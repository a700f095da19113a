//go:build windows

package daemon

import (
	"fmt"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

type windowsServices struct{}

// NewServiceController returns the Service Control Manager backed controller.
func NewServiceController() ServiceController {
	return windowsServices{}
}

func (windowsServices) open(name string) (*mgr.Mgr, *mgr.Service, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to service manager: %w", err)
	}
	s, err := m.OpenService(name)
	if err != nil {
		m.Disconnect()
		return nil, nil, fmt.Errorf("failed to open service %s: %w", name, err)
	}
	return m, s, nil
}

func (w windowsServices) Installed(name string) bool {
	m, s, err := w.open(name)
	if err != nil {
		return false
	}
	s.Close()
	m.Disconnect()
	return true
}

func (w windowsServices) Start(name string) error {
	m, s, err := w.open(name)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return fmt.Errorf("failed to query service %s: %w", name, err)
	}
	if status.State == svc.Running || status.State == svc.StartPending {
		return nil
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start service %s: %w", name, err)
	}
	return nil
}

func (w windowsServices) Stop(name string) error {
	m, s, err := w.open(name)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return fmt.Errorf("failed to query service %s: %w", name, err)
	}
	if status.State == svc.Stopped || status.State == svc.StopPending {
		return nil
	}
	if _, err := s.Control(svc.Stop); err != nil {
		return fmt.Errorf("failed to stop service %s: %w", name, err)
	}
	return nil
}

func (w windowsServices) Running(name string) (bool, error) {
	m, s, err := w.open(name)
	if err != nil {
		return false, err
	}
	defer m.Disconnect()
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return false, fmt.Errorf("failed to query service %s: %w", name, err)
	}
	return status.State != svc.Stopped, nil
}
