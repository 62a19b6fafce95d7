// Package store persists Roomly's coordination documents in Redis and user
// accounts in PostgreSQL.
//
// Groups, invitations and notifications are JSON documents under namespaced
// keys. Group membership is held in a Redis SET beside the group document so
// concurrent joins and removals are element-level operations (SADD / SREM)
// rather than whole-document writes. Status transitions run under WATCH so a
// racing writer fails the EXEC instead of clobbering state. Every successful
// mutation publishes on a per-collection channel; subscriptions re-read the
// current snapshot on each message.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a referenced document is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic write lost its race twice.
	ErrConflict = errors.New("write conflict")
	// ErrGroupInactive is returned when a mutation targets a group whose
	// status is no longer active.
	ErrGroupInactive = errors.New("group is not active")
)

// RedisStore holds every coordination document. The namespace prefixes all
// keys; separate namespaces never observe each other's data.
type RedisStore struct {
	client    *redis.Client
	ns        string
	opTimeout time.Duration
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(redisURL, namespace string, opTimeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, namespace, opTimeout), nil
}

// NewRedisStoreWithClient builds a store from an existing client.
func NewRedisStoreWithClient(client *redis.Client, namespace string, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &RedisStore{client: client, ns: namespace, opTimeout: opTimeout}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying connection so collaborators sharing the
// instance (refresh sessions) reuse the same pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(collection, id string) string {
	return s.ns + ":" + collection + ":" + id
}

func (s *RedisStore) indexKey(collection string) string {
	return s.ns + ":index:" + collection
}

func (s *RedisStore) membersKey(groupID string) string {
	return s.key("groups", groupID) + ":members"
}

func (s *RedisStore) joinedKey(groupID string) string {
	return s.key("groups", groupID) + ":joined"
}

func (s *RedisStore) changesChannel(collection string) string {
	return s.ns + ":changes:" + collection
}

// opCtx bounds a single store operation. Callers treat a deadline hit as a
// failed operation; there is no automatic retry beyond what each method does.
func (s *RedisStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) publish(collection, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.changesChannel(collection), id).Err(); err != nil {
		slog.Warn("store: publish change failed", "collection", collection, "error", err)
	}
}

// --- groups ---

// CreateGroup persists a new group document plus its member set. The caller
// assigns the id and the initial member list (normally just the creator).
func (s *RedisStore) CreateGroup(ctx context.Context, g Group) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	members := g.Members
	joined := g.MembersJoinedAt
	doc, err := marshalGroup(g)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("groups", g.ID), doc, 0)
		pipe.SAdd(ctx, s.indexKey("groups"), g.ID)
		for _, userID := range members {
			pipe.SAdd(ctx, s.membersKey(g.ID), userID)
			joinedAt := joined[userID]
			if joinedAt.IsZero() {
				joinedAt = g.CreatedAt
			}
			pipe.HSet(ctx, s.joinedKey(g.ID), userID, joinedAt.Format(time.RFC3339Nano))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	s.publish("groups", g.ID)
	return nil
}

// GetGroup loads a group document and folds the live member set and join
// timestamps back in. Members are sorted for deterministic output.
func (s *RedisStore) GetGroup(ctx context.Context, id string) (Group, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.getGroup(ctx, s.client, id)
}

type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *RedisStore) getGroup(ctx context.Context, c redisCmdable, id string) (Group, error) {
	raw, err := c.Get(ctx, s.key("groups", id)).Result()
	if err == redis.Nil {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("get group: %w", err)
	}

	var g Group
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return Group{}, fmt.Errorf("unmarshal group %s: %w", id, err)
	}

	members, err := c.SMembers(ctx, s.membersKey(id)).Result()
	if err != nil {
		return Group{}, fmt.Errorf("get group members: %w", err)
	}
	sort.Strings(members)
	g.Members = members

	joined, err := c.HGetAll(ctx, s.joinedKey(id)).Result()
	if err != nil {
		return Group{}, fmt.Errorf("get group join times: %w", err)
	}
	g.MembersJoinedAt = make(map[string]time.Time, len(joined))
	for userID, stamp := range joined {
		t, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			continue
		}
		g.MembersJoinedAt[userID] = t
	}
	return g, nil
}

// ListGroups returns every group in the namespace.
func (s *RedisStore) ListGroups(ctx context.Context) ([]Group, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.indexKey("groups")).Result()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	sort.Strings(ids)

	groups := make([]Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.getGroup(ctx, s.client, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// ListGroupsForUser returns the groups the user is currently a member of.
func (s *RedisStore) ListGroupsForUser(ctx context.Context, userID string) ([]Group, error) {
	groups, err := s.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	mine := groups[:0:0]
	for _, g := range groups {
		if g.HasMember(userID) {
			mine = append(mine, g)
		}
	}
	return mine, nil
}

// UpdateGroupDoc overwrites the group document's scalar fields. Membership is
// untouched; these are low-contention fields where last-writer-wins is
// accepted.
func (s *RedisStore) UpdateGroupDoc(ctx context.Context, g Group) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	doc, err := marshalGroup(g)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key("groups", g.ID), doc, 0).Err(); err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	s.publish("groups", g.ID)
	return nil
}

// DeleteGroup removes the group document, its member set and join timestamps.
func (s *RedisStore) DeleteGroup(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key("groups", id), s.membersKey(id), s.joinedKey(id))
		pipe.SRem(ctx, s.indexKey("groups"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	s.publish("groups", id)
	return nil
}

// AddGroupMember atomically adds userID to an active group's member set.
// The group document key is watched so a status flip between the read and the
// write aborts the transaction; one retry re-reads fresh state, after which
// the conflict surfaces as ErrConflict.
func (s *RedisStore) AddGroupMember(ctx context.Context, groupID, userID string, joinedAt time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	err := s.withGroupTx(ctx, groupID, func(tx *redis.Tx, g Group) error {
		if !g.IsActive() {
			return ErrGroupInactive
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, s.membersKey(groupID), userID)
			pipe.HSet(ctx, s.joinedKey(groupID), userID, joinedAt.Format(time.RFC3339Nano))
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	s.publish("groups", groupID)
	return nil
}

// RemoveGroupMember atomically removes userID and its join timestamp from an
// active group.
func (s *RedisStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	err := s.withGroupTx(ctx, groupID, func(tx *redis.Tx, g Group) error {
		if !g.IsActive() {
			return ErrGroupInactive
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, s.membersKey(groupID), userID)
			pipe.HDel(ctx, s.joinedKey(groupID), userID)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	s.publish("groups", groupID)
	return nil
}

// TransitionGroup flips an active group to the given terminal status and
// clears its membership in the same transaction. It returns the member ids
// captured before the clear so the caller can fan out notifications. A group
// already out of the active state returns ErrGroupInactive; racing observers
// use that to skip an expiration someone else already applied.
func (s *RedisStore) TransitionGroup(ctx context.Context, groupID, status string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var members []string
	err := s.withGroupTx(ctx, groupID, func(tx *redis.Tx, g Group) error {
		if !g.IsActive() {
			return ErrGroupInactive
		}
		members = g.Members

		g.Status = status
		doc, err := marshalGroup(g)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key("groups", groupID), doc, 0)
			pipe.Del(ctx, s.membersKey(groupID), s.joinedKey(groupID))
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish("groups", groupID)
	return members, nil
}

// withGroupTx runs fn under WATCH on the group document and member set,
// retrying once when the transaction loses a race.
func (s *RedisStore) withGroupTx(ctx context.Context, groupID string, fn func(tx *redis.Tx, g Group) error) error {
	attempt := func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			g, err := s.getGroup(ctx, tx, groupID)
			if err != nil {
				return err
			}
			return fn(tx, g)
		}, s.key("groups", groupID), s.membersKey(groupID))
	}

	err := attempt()
	if err == redis.TxFailedErr {
		err = attempt()
	}
	if err == redis.TxFailedErr {
		return ErrConflict
	}
	return err
}

func marshalGroup(g Group) ([]byte, error) {
	// Membership lives in its own keys; never persist it inside the document.
	g.Members = nil
	g.MembersJoinedAt = nil
	doc, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal group %s: %w", g.ID, err)
	}
	return doc, nil
}

// --- formation settings ---

const settingsID = "group_formation"

// GetFormationSettings reads the global formation settings document.
func (s *RedisStore) GetFormationSettings(ctx context.Context) (FormationSettings, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key("settings", settingsID)).Result()
	if err == redis.Nil {
		return FormationSettings{}, ErrNotFound
	}
	if err != nil {
		return FormationSettings{}, fmt.Errorf("get settings: %w", err)
	}
	var settings FormationSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return FormationSettings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return settings, nil
}

// SaveFormationSettings overwrites the global formation settings document.
// Existing groups keep the threshold frozen onto them at creation.
func (s *RedisStore) SaveFormationSettings(ctx context.Context, settings FormationSettings) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, s.key("settings", settingsID), doc, 0).Err(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.publish("settings", settingsID)
	return nil
}

// --- invitations ---

// CreateInvitation writes the invitation only when no document exists at its
// deterministic id. A duplicate invite is reported as created=false, not an
// error.
func (s *RedisStore) CreateInvitation(ctx context.Context, inv Invitation) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	doc, err := json.Marshal(inv)
	if err != nil {
		return false, fmt.Errorf("marshal invitation %s: %w", inv.ID, err)
	}

	created, err := s.client.SetNX(ctx, s.key("invitations", inv.ID), doc, 0).Result()
	if err != nil {
		return false, fmt.Errorf("create invitation: %w", err)
	}
	if !created {
		return false, nil
	}
	if err := s.client.SAdd(ctx, s.indexKey("invitations"), inv.ID).Err(); err != nil {
		return false, fmt.Errorf("index invitation: %w", err)
	}
	s.publish("invitations", inv.ID)
	return true, nil
}

func (s *RedisStore) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key("invitations", id)).Result()
	if err == redis.Nil {
		return Invitation{}, ErrNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	var inv Invitation
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		return Invitation{}, fmt.Errorf("unmarshal invitation %s: %w", id, err)
	}
	return inv, nil
}

// DeleteInvitation removes an invitation. Deleting an absent invitation is a
// no-op; accept, reject and cancel all converge on the document being gone.
func (s *RedisStore) DeleteInvitation(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key("invitations", id))
		pipe.SRem(ctx, s.indexKey("invitations"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	s.publish("invitations", id)
	return nil
}

func (s *RedisStore) listInvitations(ctx context.Context) ([]Invitation, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey("invitations")).Result()
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	sort.Strings(ids)

	invitations := make([]Invitation, 0, len(ids))
	for _, id := range ids {
		inv, err := s.GetInvitation(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, nil
}

// ListInvitationsForUser returns the user's pending invitations.
func (s *RedisStore) ListInvitationsForUser(ctx context.Context, userID string) ([]Invitation, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	all, err := s.listInvitations(ctx)
	if err != nil {
		return nil, err
	}
	mine := all[:0:0]
	for _, inv := range all {
		if inv.RecipientID == userID {
			mine = append(mine, inv)
		}
	}
	return mine, nil
}

// ListInvitationsForGroup returns the group's outstanding invitations, used
// to sweep them when the group is deleted or expires.
func (s *RedisStore) ListInvitationsForGroup(ctx context.Context, groupID string) ([]Invitation, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	all, err := s.listInvitations(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, inv := range all {
		if inv.GroupID == groupID {
			out = append(out, inv)
		}
	}
	return out, nil
}

// --- notifications ---

// CreateNotifications writes a batch of notification documents atomically so
// a lifecycle event never fans out to only some of the affected users.
func (s *RedisStore) CreateNotifications(ctx context.Context, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	docs := make([][]byte, len(notifications))
	for i, n := range notifications {
		doc, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification %s: %w", n.ID, err)
		}
		docs[i] = doc
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, n := range notifications {
			pipe.Set(ctx, s.key("notifications", n.ID), docs[i], 0)
			pipe.SAdd(ctx, s.indexKey("notifications:"+n.UserID), n.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	s.publish("notifications", "")
	return nil
}

func (s *RedisStore) GetNotification(ctx context.Context, id string) (Notification, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key("notifications", id)).Result()
	if err == redis.Nil {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("get notification: %w", err)
	}
	var n Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return Notification{}, fmt.Errorf("unmarshal notification %s: %w", id, err)
	}
	return n, nil
}

// ListNotificationsForUser returns the user's notifications, newest first.
func (s *RedisStore) ListNotificationsForUser(ctx context.Context, userID string) ([]Notification, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.indexKey("notifications:"+userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	notifications := make([]Notification, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetNotification(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

// MarkNotificationRead sets the read flag on a notification document.
func (s *RedisStore) MarkNotificationRead(ctx context.Context, id string) error {
	n, err := s.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	n.Read = true

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key("notifications", id), doc, 0).Err(); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	s.publish("notifications", id)
	return nil
}

// DeleteNotification removes a notification document and its index entry.
func (s *RedisStore) DeleteNotification(ctx context.Context, id, userID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key("notifications", id))
		pipe.SRem(ctx, s.indexKey("notifications:"+userID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	s.publish("notifications", id)
	return nil
}

// --- subscriptions ---

// subscribe listens on a collection's change channel and invokes deliver once
// immediately and then after every published mutation. The returned func
// tears the subscription down; once it returns no further deliveries happen.
func (s *RedisStore) subscribe(collection string, deliver func(ctx context.Context)) (unsubscribe func()) {
	pubsub := s.client.Subscribe(context.Background(), s.changesChannel(collection))
	done := make(chan struct{})

	go func() {
		ctx, cancel := s.opCtx(context.Background())
		deliver(ctx)
		cancel()

		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				ctx, cancel := s.opCtx(context.Background())
				deliver(ctx)
				cancel()
			}
		}
	}()

	return func() {
		close(done)
		_ = pubsub.Close()
	}
}

// SubscribeGroup delivers the group's current state after every mutation.
// ok=false signals the group no longer exists.
func (s *RedisStore) SubscribeGroup(id string, onChange func(g Group, ok bool)) (unsubscribe func()) {
	return s.subscribe("groups", func(ctx context.Context) {
		g, err := s.getGroup(ctx, s.client, id)
		if err == ErrNotFound {
			onChange(Group{}, false)
			return
		}
		if err != nil {
			slog.Warn("store: group subscription read failed", "group_id", id, "error", err)
			return
		}
		onChange(g, true)
	})
}

// SubscribeAllGroups delivers the full group set after every mutation.
func (s *RedisStore) SubscribeAllGroups(onChange func(groups []Group)) (unsubscribe func()) {
	return s.subscribe("groups", func(ctx context.Context) {
		groups, err := s.ListGroups(ctx)
		if err != nil {
			slog.Warn("store: groups subscription read failed", "error", err)
			return
		}
		onChange(groups)
	})
}

// SubscribeUserGroups delivers the user's group memberships after every
// group mutation.
func (s *RedisStore) SubscribeUserGroups(userID string, onChange func(groups []Group)) (unsubscribe func()) {
	return s.subscribe("groups", func(ctx context.Context) {
		groups, err := s.ListGroupsForUser(ctx, userID)
		if err != nil {
			slog.Warn("store: user groups subscription read failed", "user_id", userID, "error", err)
			return
		}
		onChange(groups)
	})
}

// SubscribeInvitationsForUser delivers the user's pending invitations after
// every invitation mutation.
func (s *RedisStore) SubscribeInvitationsForUser(userID string, onChange func(invitations []Invitation)) (unsubscribe func()) {
	return s.subscribe("invitations", func(ctx context.Context) {
		invitations, err := s.ListInvitationsForUser(ctx, userID)
		if err != nil {
			slog.Warn("store: invitations subscription read failed", "user_id", userID, "error", err)
			return
		}
		onChange(invitations)
	})
}

// SubscribeNotificationsForUser delivers the user's notification inbox after
// every notification mutation.
func (s *RedisStore) SubscribeNotificationsForUser(userID string, onChange func(notifications []Notification)) (unsubscribe func()) {
	return s.subscribe("notifications", func(ctx context.Context) {
		notifications, err := s.ListNotificationsForUser(ctx, userID)
		if err != nil {
			slog.Warn("store: notifications subscription read failed", "user_id", userID, "error", err)
			return
		}
		onChange(notifications)
	})
}
