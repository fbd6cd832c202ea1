package launcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

const defaultStoreTimeout = 5 * time.Second

// Controller owns the single toolkit launcher entry shared by every slot.
// It is called from the slot loop, so store writes are bounded by a
// timeout.
type Controller struct {
	logger  *log.Logger
	store   Store
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	state    State
	onChange func(State)
}

// NewController restores the persisted entry from store.
func NewController(ctx context.Context, logger *log.Logger, store Store) (*Controller, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore launcher: %w", err)
	}
	return &Controller{
		logger:  logger,
		store:   store,
		timeout: defaultStoreTimeout,
		now: func() time.Time {
			return time.Now().UTC()
		},
		state: state,
	}, nil
}

// OnChange registers fn to run after every persisted change.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.state
	out.Icon = append([]byte(nil), c.state.Icon...)
	return out
}

// Install shows the launcher entry with label and icon. Reinstalling the
// same entry is a no-op.
func (c *Controller) Install(label string, icon []byte) error {
	c.mu.Lock()
	if c.state.Installed && c.state.Label == label && bytes.Equal(c.state.Icon, icon) {
		c.mu.Unlock()
		return nil
	}
	next := State{
		Installed: true,
		Label:     label,
		Icon:      append([]byte(nil), icon...),
		UpdatedAt: c.now(),
	}
	fn, err := c.commitLocked(next)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.logger.Printf("launcher installed label=%q icon_bytes=%d", label, len(icon))
	if fn != nil {
		fn(next)
	}
	return nil
}

// Uninstall removes the entry and reports whether it was installed.
func (c *Controller) Uninstall() (bool, error) {
	c.mu.Lock()
	if !c.state.Installed {
		c.mu.Unlock()
		return false, nil
	}
	next := State{UpdatedAt: c.now()}
	fn, err := c.commitLocked(next)
	c.mu.Unlock()
	if err != nil {
		return false, err
	}
	c.logger.Printf("launcher removed")
	if fn != nil {
		fn(next)
	}
	return true, nil
}

func (c *Controller) commitLocked(next State) (func(State), error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("persist launcher: %w", err)
	}
	c.state = next
	return c.onChange, nil
}
