// Package hostif manages the kernel network devices that mirror switch
// ports.
package hostif

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vishvananda/netlink"
)

// ErrLinkNotFound is returned when the named netdev does not exist.
var ErrLinkNotFound = errors.New("link not found")

// Manager reads and updates host netdevs.
type Manager interface {
	// Exists reports whether the netdev name exists.
	Exists(name string) (bool, error)
	// SetAdminState brings the netdev up or down.
	SetAdminState(name string, up bool) error
	// SetMTU sets the netdev MTU.
	SetMTU(name string, mtu int) error
}

// NetlinkManager is a Manager backed by rtnetlink.
type NetlinkManager struct {
	handle *netlink.Handle
}

// NewNetlinkManager returns a Manager using h, or the package-level netlink
// functions in the current namespace when h is nil.
func NewNetlinkManager(h *netlink.Handle) *NetlinkManager {
	return &NetlinkManager{handle: h}
}

func (m *NetlinkManager) linkByName(name string) (netlink.Link, error) {
	linkByName := netlink.LinkByName
	if m.handle != nil {
		linkByName = m.handle.LinkByName
	}
	link, err := linkByName(name)
	if err != nil {
		if errors.As(err, &netlink.LinkNotFoundError{}) {
			return nil, fmt.Errorf("%s: %w", name, ErrLinkNotFound)
		}
		return nil, fmt.Errorf("lookup %s: %w", name, err)
	}
	return link, nil
}

// Exists implements Manager.
func (m *NetlinkManager) Exists(name string) (bool, error) {
	if _, err := m.linkByName(name); err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetAdminState implements Manager.
func (m *NetlinkManager) SetAdminState(name string, up bool) error {
	link, err := m.linkByName(name)
	if err != nil {
		return err
	}
	setUp, setDown := netlink.LinkSetUp, netlink.LinkSetDown
	if m.handle != nil {
		setUp, setDown = m.handle.LinkSetUp, m.handle.LinkSetDown
	}
	if up {
		err = setUp(link)
	} else {
		err = setDown(link)
	}
	if err != nil {
		return fmt.Errorf("set %s admin state: %w", name, err)
	}
	return nil
}

// SetMTU implements Manager.
func (m *NetlinkManager) SetMTU(name string, mtu int) error {
	link, err := m.linkByName(name)
	if err != nil {
		return err
	}
	setMTU := netlink.LinkSetMTU
	if m.handle != nil {
		setMTU = m.handle.LinkSetMTU
	}
	if err := setMTU(link, mtu); err != nil {
		return fmt.Errorf("set %s mtu: %w", name, err)
	}
	return nil
}

// Link is the state of a netdev held by Static.
type Link struct {
	Up  bool
	MTU int
}

// Static is an in-memory Manager for tests and simulated devices.
//
// Thread-safety: Static is safe for concurrent use.
type Static struct {
	mu    sync.Mutex
	links map[string]Link
	// AutoCreate makes SetAdminState and SetMTU create missing links.
	AutoCreate bool
}

// NewStatic returns a Static holding the named links, down with MTU 9100.
func NewStatic(names ...string) *Static {
	s := &Static{links: make(map[string]Link)}
	for _, n := range names {
		s.links[n] = Link{MTU: 9100}
	}
	return s
}

// Add creates or replaces a link.
func (s *Static) Add(name string, link Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[name] = link
}

// Remove deletes a link.
func (s *Static) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, name)
}

// Link returns the state of a link.
func (s *Static) Link(name string) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[name]
	return l, ok
}

// Names returns the sorted link names.
func (s *Static) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.links))
	for n := range s.links {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Exists implements Manager.
func (s *Static) Exists(name string) (bool, error) {
	_, ok := s.Link(name)
	return ok, nil
}

// SetAdminState implements Manager.
func (s *Static) SetAdminState(name string, up bool) error {
	return s.update(name, func(l *Link) { l.Up = up })
}

// SetMTU implements Manager.
func (s *Static) SetMTU(name string, mtu int) error {
	return s.update(name, func(l *Link) { l.MTU = mtu })
}

func (s *Static) update(name string, fn func(*Link)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[name]
	if !ok && !s.AutoCreate {
		return fmt.Errorf("%s: %w", name, ErrLinkNotFound)
	}
	fn(&l)
	s.links[name] = l
	return nil
}
