package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"roomly/api/internal/store"
)

// Monitor watches active groups and expires the ones that pass their
// deadline below the member threshold. Every running instance observes
// independently; the store's conditional transition makes the race benign,
// whoever loses simply sees the group already inactive and moves on.
type Monitor struct {
	svc  *Service
	docs docStore
	tick time.Duration
	now  func() time.Time

	mu     sync.Mutex
	groups map[string]store.Group

	cancel context.CancelFunc
	unsub  func()
	done   chan struct{}
}

func NewMonitor(svc *Service, docs docStore, tick time.Duration) *Monitor {
	if tick <= 0 {
		tick = time.Second
	}
	return &Monitor{
		svc:    svc,
		docs:   docs,
		tick:   tick,
		now:    time.Now,
		groups: make(map[string]store.Group),
	}
}

// Start begins observing. The subscription keeps the in-memory view of
// active groups current; the ticker checks deadlines against that view so a
// quiet store costs no reads.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.unsub = m.docs.SubscribeAllGroups(func(groups []store.Group) {
		next := make(map[string]store.Group, len(groups))
		for _, g := range groups {
			if g.IsActive() {
				next[g.ID] = g
			}
		}
		m.mu.Lock()
		m.groups = next
		m.mu.Unlock()

		// Snapshots trigger a check too, so an overdue group expires as
		// soon as it is observed rather than on the next tick.
		m.sweep(ctx)
	})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.unsub != nil {
		m.unsub()
	}
	if m.done != nil {
		<-m.done
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	due := make([]store.Group, 0, len(m.groups))
	for _, g := range m.groups {
		if !g.ExpirationTime.IsZero() && now.After(g.ExpirationTime) {
			due = append(due, g)
		}
	}
	m.mu.Unlock()

	for _, g := range due {
		m.evaluate(ctx, g.ID)
	}
}

// evaluate re-reads the group and applies the expiration rule: past the
// deadline with fewer members than the frozen threshold requires, the group
// expires; at or above the threshold it stays active and is left alone.
func (m *Monitor) evaluate(ctx context.Context, groupID string) {
	g, err := m.docs.GetGroup(ctx, groupID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("expiry read failed", "group_id", groupID, "error", err)
		}
		m.forget(groupID)
		return
	}
	if !g.IsActive() {
		m.forget(groupID)
		return
	}
	// Documents written without a deadline never auto-expire.
	if g.ExpirationTime.IsZero() || !m.now().After(g.ExpirationTime) {
		return
	}
	if len(g.Members) >= requiredAtThreshold(g.RequiredMembers, g.ThresholdPercent) {
		// Enough momentum; the group survives its deadline.
		m.forget(groupID)
		return
	}

	members, err := m.docs.TransitionGroup(ctx, groupID, store.GroupExpired)
	if err != nil {
		if errors.Is(err, store.ErrGroupInactive) || errors.Is(err, store.ErrNotFound) {
			// Another observer won the race.
			m.forget(groupID)
			return
		}
		slog.Warn("expiry transition failed", "group_id", groupID, "error", err)
		return
	}
	m.forget(groupID)
	slog.Info("group expired", "group_id", groupID, "members", len(members))

	if err := m.svc.NotifyExpiration(ctx, groupID, g.Name, members); err != nil {
		slog.Warn("expiry fan-out failed", "group_id", groupID, "error", err)
	}
	if m.svc.index != nil {
		m.svc.indexGroup(expiredCopy(g))
	}
	m.emailMembers(ctx, g, members)
}

func (m *Monitor) forget(groupID string) {
	m.mu.Lock()
	delete(m.groups, groupID)
	m.mu.Unlock()
}

func (m *Monitor) emailMembers(ctx context.Context, g store.Group, members []string) {
	if !m.svc.SMTPConfigured() || m.svc.users == nil {
		return
	}
	for _, userID := range members {
		user, err := m.svc.users.GetUserByID(ctx, userID)
		if err != nil || user.Email == "" {
			continue
		}
		go func(to string) {
			if err := m.svc.mail.SendGroupExpired(to, g.Name, m.svc.cfg.PublicURL); err != nil {
				slog.Warn("expiry email failed", "group_id", g.ID, "error", err)
			}
		}(user.Email)
	}
}

func expiredCopy(g store.Group) store.Group {
	g.Status = store.GroupExpired
	return g
}

// requiredAtThreshold is the member count a group must reach by its deadline
// to survive: requiredMembers scaled by the percentage, rounded down. A zero
// percentage means the group never auto-expires short of zero members, so
// callers should have substituted the default before freezing it.
func requiredAtThreshold(requiredMembers, thresholdPercent int) int {
	return requiredMembers * thresholdPercent / 100
}
