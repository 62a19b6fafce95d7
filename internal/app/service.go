package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"roomly/api/internal/auth"
	"roomly/api/internal/authpw"
	"roomly/api/internal/config"
	"roomly/api/internal/email"
	"roomly/api/internal/search"
	"roomly/api/internal/session"
	"roomly/api/internal/store"
	"roomly/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateGroupInput struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	RequiredMembers int      `json:"requiredMembers"`
	Purpose         string   `json:"purpose"`
	Properties      []string `json:"properties"`
	ApartmentID     string   `json:"apartmentId"`
}

type UpdateDetailsInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Purpose     string   `json:"purpose"`
	Properties  []string `json:"properties"`
	ApartmentID string   `json:"apartmentId"`
}

// docStore is the coordination-document substrate: groups, invitations,
// notifications and the global formation settings.
type docStore interface {
	CreateGroup(ctx context.Context, g store.Group) error
	GetGroup(ctx context.Context, id string) (store.Group, error)
	ListGroups(ctx context.Context) ([]store.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]store.Group, error)
	UpdateGroupDoc(ctx context.Context, g store.Group) error
	DeleteGroup(ctx context.Context, id string) error
	AddGroupMember(ctx context.Context, groupID, userID string, joinedAt time.Time) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	TransitionGroup(ctx context.Context, groupID, status string) ([]string, error)

	GetFormationSettings(ctx context.Context) (store.FormationSettings, error)
	SaveFormationSettings(ctx context.Context, settings store.FormationSettings) error

	CreateInvitation(ctx context.Context, inv store.Invitation) (bool, error)
	GetInvitation(ctx context.Context, id string) (store.Invitation, error)
	DeleteInvitation(ctx context.Context, id string) error
	ListInvitationsForUser(ctx context.Context, userID string) ([]store.Invitation, error)
	ListInvitationsForGroup(ctx context.Context, groupID string) ([]store.Invitation, error)

	CreateNotifications(ctx context.Context, notifications []store.Notification) error
	GetNotification(ctx context.Context, id string) (store.Notification, error)
	ListNotificationsForUser(ctx context.Context, userID string) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id, userID string) error

	SubscribeGroup(id string, onChange func(g store.Group, ok bool)) func()
	SubscribeAllGroups(onChange func(groups []store.Group)) func()
	SubscribeUserGroups(userID string, onChange func(groups []store.Group)) func()
	SubscribeInvitationsForUser(userID string, onChange func(invitations []store.Invitation)) func()
	SubscribeNotificationsForUser(userID string, onChange func(notifications []store.Notification)) func()

	Ping(ctx context.Context) error
}

// userStore is the auth/profile collaborator's read side.
type userStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type groupIndexer interface {
	IndexGroup(rec search.GroupRecord)
	DeleteGroup(id string)
}

type Service struct {
	cfg      config.Config
	docs     docStore
	users    userStore
	sessions sessionStore
	authpw   *authpw.Service
	mail     *email.Service
	index    groupIndexer
}

func New(cfg config.Config, docs docStore, users userStore, sessions sessionStore, authSvc *authpw.Service, mail *email.Service, index groupIndexer) *Service {
	return &Service{
		cfg:      cfg,
		docs:     docs,
		users:    users,
		sessions: sessions,
		authpw:   authSvc,
		mail:     mail,
		index:    index,
	}
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

// --- sessions ---

func (s *Service) IssueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), session.TokenData{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, store.User{ID: data.UserID, DisplayName: data.DisplayName, Role: data.Role})
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
}

// GetProfile exposes the auth/profile collaborator to callers that only hold
// a user id.
func (s *Service) GetProfile(ctx context.Context, userID string) (store.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, mapStoreErr(err, "User not found")
	}
	return user, nil
}

// --- groups ---

// CreateGroup creates an active group owned by creatorID. The formation
// timeout and threshold come from the global settings document; if that read
// fails the configured defaults apply, so a missing settings doc never blocks
// group creation.
func (s *Service) CreateGroup(ctx context.Context, input CreateGroupInput, creatorID string) (store.Group, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Group{}, errValidation("name is required")
	}
	if input.RequiredMembers < 2 {
		return store.Group{}, errValidation("requiredMembers must be at least 2")
	}

	timeoutHours := s.cfg.GroupTimeoutHours
	thresholdPercent := s.cfg.GroupThresholdPercent
	if settings, err := s.docs.GetFormationSettings(ctx); err == nil {
		if settings.TimeoutHours > 0 {
			timeoutHours = settings.TimeoutHours
		}
		if settings.ThresholdPercent > 0 {
			thresholdPercent = settings.ThresholdPercent
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("formation settings unreadable, using defaults", "error", err)
	}

	now := time.Now()
	g := store.Group{
		ID:               util.NewID("grp"),
		Name:             name,
		Description:      input.Description,
		AdminID:          creatorID,
		Members:          []string{creatorID},
		MembersJoinedAt:  map[string]time.Time{creatorID: now},
		RequiredMembers:  input.RequiredMembers,
		ThresholdPercent: thresholdPercent,
		Purpose:          input.Purpose,
		Properties:       input.Properties,
		ApartmentID:      input.ApartmentID,
		Status:           store.GroupActive,
		CreatedAt:        now,
		ExpirationTime:   now.Add(time.Duration(timeoutHours) * time.Hour),
	}

	if err := s.docs.CreateGroup(ctx, g); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return store.Group{}, errStoreTimeout()
		}
		return store.Group{}, errConfigUnavailable("Could not persist group")
	}
	s.indexGroup(g)
	return g, nil
}

func (s *Service) GetGroup(ctx context.Context, id string) (store.Group, error) {
	g, err := s.docs.GetGroup(ctx, id)
	if err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	return g, nil
}

func (s *Service) ListGroupsForUser(ctx context.Context, userID string) ([]store.Group, error) {
	groups, err := s.docs.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err, "Group not found")
	}
	return groups, nil
}

// UpdateDetails rewrites the descriptive fields. These are low-contention
// and last-writer-wins; only the admin may edit.
func (s *Service) UpdateDetails(ctx context.Context, groupID, callerID string, input UpdateDetailsInput) (store.Group, error) {
	g, err := s.docs.GetGroup(ctx, groupID)
	if err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	if g.AdminID != callerID {
		return store.Group{}, errForbidden("Only the group admin can edit the group")
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		g.Name = name
	}
	g.Description = input.Description
	g.Purpose = input.Purpose
	if input.Properties != nil {
		g.Properties = input.Properties
	}
	g.ApartmentID = input.ApartmentID

	if err := s.docs.UpdateGroupDoc(ctx, g); err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	s.indexGroup(g)
	return g, nil
}

func (s *Service) UpdateRequiredMembers(ctx context.Context, groupID, callerID string, requiredMembers int) (store.Group, error) {
	if requiredMembers < 2 {
		return store.Group{}, errValidation("requiredMembers must be at least 2")
	}
	g, err := s.docs.GetGroup(ctx, groupID)
	if err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	if g.AdminID != callerID {
		return store.Group{}, errForbidden("Only the group admin can change the target size")
	}
	g.RequiredMembers = requiredMembers
	if err := s.docs.UpdateGroupDoc(ctx, g); err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	return g, nil
}

// UpdateAdmin transfers group leadership. The new admin must already be a
// member; the admin-is-a-member invariant never breaks.
func (s *Service) UpdateAdmin(ctx context.Context, groupID, callerID, newAdminID string) (store.Group, error) {
	g, err := s.docs.GetGroup(ctx, groupID)
	if err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	if g.AdminID != callerID {
		return store.Group{}, errForbidden("Only the current admin can transfer leadership")
	}
	if !g.IsActive() {
		return store.Group{}, errInactiveGroup()
	}
	if !g.HasMember(newAdminID) {
		return store.Group{}, errValidation("new admin must be a group member")
	}
	g.AdminID = newAdminID
	if err := s.docs.UpdateGroupDoc(ctx, g); err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	return g, nil
}

// DeleteGroup removes the group document entirely, sweeping its outstanding
// invitations. This is the admin's way out when they cannot leave.
func (s *Service) DeleteGroup(ctx context.Context, groupID, callerID string) error {
	g, err := s.docs.GetGroup(ctx, groupID)
	if err != nil {
		return mapStoreErr(err, "Group not found")
	}
	if g.AdminID != callerID {
		return errForbidden("Only the group admin can delete the group")
	}

	if invitations, err := s.docs.ListInvitationsForGroup(ctx, groupID); err == nil {
		for _, inv := range invitations {
			if err := s.docs.DeleteInvitation(ctx, inv.ID); err != nil {
				slog.Warn("sweep invitation failed", "invitation_id", inv.ID, "error", err)
			}
		}
	}

	if err := s.docs.DeleteGroup(ctx, groupID); err != nil {
		return mapStoreErr(err, "Group not found")
	}
	if s.index != nil {
		s.index.DeleteGroup(groupID)
	}
	return nil
}

// CompleteGroup closes an active group as successfully formed. The terminal
// transition clears membership the same way expiration does; former members
// are not notified, completion is the outcome they worked toward.
func (s *Service) CompleteGroup(ctx context.Context, groupID, callerID string) (store.Group, error) {
	g, err := s.docs.GetGroup(ctx, groupID)
	if err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	if g.AdminID != callerID {
		return store.Group{}, errForbidden("Only the group admin can complete the group")
	}

	if _, err := s.docs.TransitionGroup(ctx, groupID, store.GroupCompleted); err != nil {
		return store.Group{}, mapStoreErr(err, "Group not found")
	}
	g.Status = store.GroupCompleted
	g.Members = nil
	g.MembersJoinedAt = nil
	s.indexGroup(g)
	return g, nil
}

// --- membership ---

// AddMember adds userID to an active group. The add is an atomic set union
// in the store, so concurrent adds of different users both survive.
func (s *Service) AddMember(ctx context.Context, groupID, userID string) error {
	return mapStoreErr(s.docs.AddGroupMember(ctx, groupID, userID, time.Now()), "Group not found")
}

// RemoveMember removes userID from the group. Members may remove themselves;
// the admin may remove anyone else. An admin removing themself is rejected:
// they must transfer leadership or delete the group.
func (s *Service) RemoveMember(ctx context.Context, groupID, userID, callerID string) error {
	g, err := s.docs.GetGroup(ctx, groupID)
	if err != nil {
		return mapStoreErr(err, "Group not found")
	}
	if userID == g.AdminID && callerID == userID {
		return errCannotSelfRemoveAdmin()
	}
	if callerID != userID && callerID != g.AdminID {
		return errForbidden("Only the admin can remove other members")
	}

	if err := s.docs.RemoveGroupMember(ctx, groupID, userID); err != nil {
		return mapStoreErr(err, "Group not found")
	}

	// Per-member side records: a pending invitation for the pair is stale
	// once the user is out.
	if err := s.docs.DeleteInvitation(ctx, util.InvitationID(userID, groupID)); err != nil {
		slog.Warn("delete stale invitation failed", "group_id", groupID, "user_id", userID, "error", err)
	}

	if callerID != userID {
		s.notifyBestEffort(ctx, []store.Notification{{
			ID:        util.NewID("ntf"),
			UserID:    userID,
			GroupID:   groupID,
			GroupName: g.Name,
			Type:      store.NotifyGroupRemoved,
			Message:   "You were removed from the group " + g.Name,
			CreatedAt: time.Now(),
		}})
	}
	return nil
}

// JoinDirectly is the self-service join used by shareable links. Joining a
// group you are already in is a no-op success, so duplicate calls and racing
// self-joins are harmless.
func (s *Service) JoinDirectly(ctx context.Context, groupID, userID string) error {
	g, err := s.docs.GetGroup(ctx, groupID)
	if err != nil {
		return mapStoreErr(err, "Group not found")
	}
	if !g.IsActive() {
		return errInactiveGroup()
	}
	if g.HasMember(userID) {
		return nil
	}
	return mapStoreErr(s.docs.AddGroupMember(ctx, groupID, userID, time.Now()), "Group not found")
}

// --- invitations ---

// Invite creates a pending invitation at the deterministic id for the
// (recipient, group) pair. A concurrent or repeated invite finds the document
// already present and succeeds without writing a duplicate.
func (s *Service) Invite(ctx context.Context, groupID, inviterID, recipientID, inviteType string) (store.Invitation, error) {
	if inviteType == "" {
		inviteType = store.InviteManual
	}
	if inviteType != store.InviteManual && inviteType != store.InviteLink {
		return store.Invitation{}, errValidation("invalid invitation type")
	}
	if recipientID == "" {
		return store.Invitation{}, errValidation("recipientId is required")
	}

	g, err := s.docs.GetGroup(ctx, groupID)
	if err != nil {
		return store.Invitation{}, mapStoreErr(err, "Group not found")
	}
	if !g.IsActive() {
		return store.Invitation{}, errInactiveGroup()
	}
	if !g.HasMember(inviterID) {
		return store.Invitation{}, errForbidden("Only group members can invite")
	}

	inv := store.Invitation{
		ID:          util.InvitationID(recipientID, groupID),
		GroupID:     groupID,
		GroupName:   g.Name,
		InviterID:   inviterID,
		RecipientID: recipientID,
		Status:      "pending",
		Type:        inviteType,
		CreatedAt:   time.Now(),
	}
	if g.HasMember(recipientID) {
		// Already in; nothing to create.
		return inv, nil
	}

	created, err := s.docs.CreateInvitation(ctx, inv)
	if err != nil {
		return store.Invitation{}, mapStoreErr(err, "Group not found")
	}
	if !created {
		return inv, nil
	}

	s.notifyBestEffort(ctx, []store.Notification{{
		ID:        util.NewID("ntf"),
		UserID:    recipientID,
		GroupID:   groupID,
		GroupName: g.Name,
		Type:      store.NotifyGroupInvitation,
		Message:   "You were invited to join the group " + g.Name,
		CreatedAt: time.Now(),
	}})
	s.emailInvitation(ctx, inv)

	return inv, nil
}

// RespondToInvitation accepts or rejects a pending invitation. Only the
// recipient may respond. Accepting tolerates the user having become a member
// through a race; either way the invitation document is deleted.
func (s *Service) RespondToInvitation(ctx context.Context, invitationID, callerID, decision string) error {
	if decision != "accepted" && decision != "rejected" {
		return errValidation("decision must be accepted or rejected")
	}

	inv, err := s.docs.GetInvitation(ctx, invitationID)
	if err != nil {
		return mapStoreErr(err, "Invitation not found")
	}
	if inv.RecipientID != callerID {
		return errForbidden("Only the invited user can respond")
	}
	if inv.ID != util.InvitationID(callerID, inv.GroupID) {
		return errMalformed("invitation id does not match its recipient and group")
	}

	if decision == "rejected" {
		return mapStoreErr(s.docs.DeleteInvitation(ctx, inv.ID), "Invitation not found")
	}

	g, err := s.docs.GetGroup(ctx, inv.GroupID)
	if err != nil || !g.IsActive() {
		// The group is gone or closed; the invitation is stale either way.
		_ = s.docs.DeleteInvitation(ctx, inv.ID)
		if err != nil {
			return mapStoreErr(err, "Group not found")
		}
		return errInactiveGroup()
	}

	if !g.HasMember(callerID) {
		if err := s.docs.AddGroupMember(ctx, inv.GroupID, callerID, time.Now()); err != nil {
			// A race that already made the caller a member is success.
			if !errors.Is(err, store.ErrGroupInactive) {
				if fresh, ferr := s.docs.GetGroup(ctx, inv.GroupID); ferr == nil && fresh.HasMember(callerID) {
					err = nil
				}
			}
			if err != nil {
				return mapStoreErr(err, "Group not found")
			}
		}
	}

	return mapStoreErr(s.docs.DeleteInvitation(ctx, inv.ID), "Invitation not found")
}

// CancelInvitation withdraws a pending invitation. Cancelling an absent
// invitation succeeds.
func (s *Service) CancelInvitation(ctx context.Context, groupID, recipientID, callerID string) error {
	id := util.InvitationID(recipientID, groupID)
	inv, err := s.docs.GetInvitation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return mapStoreErr(err, "Invitation not found")
	}

	allowed := callerID == inv.InviterID || callerID == inv.RecipientID
	if !allowed {
		// Defensive read: the group may already be gone.
		if g, gerr := s.docs.GetGroup(ctx, groupID); gerr == nil && g.AdminID == callerID {
			allowed = true
		}
	}
	if !allowed {
		return errForbidden("Only the inviter, recipient or group admin can cancel")
	}
	return mapStoreErr(s.docs.DeleteInvitation(ctx, id), "Invitation not found")
}

func (s *Service) ListInvitationsForUser(ctx context.Context, userID string) ([]store.Invitation, error) {
	invitations, err := s.docs.ListInvitationsForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err, "Invitation not found")
	}
	return invitations, nil
}

// --- notifications ---

// NotifyExpiration fans out one group_expired notification per affected
// member in a single atomic batch.
func (s *Service) NotifyExpiration(ctx context.Context, groupID, groupName string, memberIDs []string) error {
	notifications := make([]store.Notification, 0, len(memberIDs))
	now := time.Now()
	for _, userID := range memberIDs {
		notifications = append(notifications, store.Notification{
			ID:        util.NewID("ntf"),
			UserID:    userID,
			GroupID:   groupID,
			GroupName: groupName,
			Type:      store.NotifyGroupExpired,
			Message:   "The group " + groupName + " expired before reaching enough members",
			CreatedAt: now,
		})
	}
	return mapStoreErr(s.docs.CreateNotifications(ctx, notifications), "Group not found")
}

func (s *Service) ListNotificationsForUser(ctx context.Context, userID string) ([]store.Notification, error) {
	notifications, err := s.docs.ListNotificationsForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err, "Notification not found")
	}
	return notifications, nil
}

// MarkNotificationRead marks a notification read; only its recipient may.
func (s *Service) MarkNotificationRead(ctx context.Context, id, callerID string) error {
	n, err := s.docs.GetNotification(ctx, id)
	if err != nil {
		return mapStoreErr(err, "Notification not found")
	}
	if n.UserID != callerID {
		return errForbidden("Not your notification")
	}
	return mapStoreErr(s.docs.MarkNotificationRead(ctx, id), "Notification not found")
}

// DeleteNotification deletes a notification; only its recipient may.
func (s *Service) DeleteNotification(ctx context.Context, id, callerID string) error {
	n, err := s.docs.GetNotification(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return mapStoreErr(err, "Notification not found")
	}
	if n.UserID != callerID {
		return errForbidden("Not your notification")
	}
	return mapStoreErr(s.docs.DeleteNotification(ctx, id, callerID), "Notification not found")
}

// notifyBestEffort logs and swallows fan-out failures; notifications are a
// side channel, never a reason to fail the primary operation.
func (s *Service) notifyBestEffort(ctx context.Context, notifications []store.Notification) {
	if err := s.docs.CreateNotifications(ctx, notifications); err != nil {
		slog.Warn("notification fan-out failed", "count", len(notifications), "error", err)
	}
}

// --- formation settings ---

// FormationSettings returns the current global settings, falling back to the
// configured defaults when the document is absent or unreadable.
func (s *Service) FormationSettings(ctx context.Context) store.FormationSettings {
	settings, err := s.docs.GetFormationSettings(ctx)
	if err != nil {
		return store.FormationSettings{
			TimeoutHours:     s.cfg.GroupTimeoutHours,
			ThresholdPercent: s.cfg.GroupThresholdPercent,
		}
	}
	if settings.TimeoutHours <= 0 {
		settings.TimeoutHours = s.cfg.GroupTimeoutHours
	}
	if settings.ThresholdPercent <= 0 {
		settings.ThresholdPercent = s.cfg.GroupThresholdPercent
	}
	return settings
}

// UpdateFormationSettings overwrites the global settings document. Platform
// admins only; already-created groups keep their frozen threshold.
func (s *Service) UpdateFormationSettings(ctx context.Context, callerRole string, settings store.FormationSettings) error {
	if callerRole != "admin" {
		return errForbidden("Only platform admins can change formation settings")
	}
	if settings.TimeoutHours < 1 {
		return errValidation("timeoutHours must be at least 1")
	}
	if settings.ThresholdPercent < 0 || settings.ThresholdPercent > 100 {
		return errValidation("thresholdPercent must be between 0 and 100")
	}
	return mapStoreErr(s.docs.SaveFormationSettings(ctx, settings), "Settings not found")
}

// --- search ---

// GroupRecords adapts the store to the search fallback scan.
type GroupRecords struct {
	Docs interface {
		ListGroups(ctx context.Context) ([]store.Group, error)
	}
}

func (r GroupRecords) ListGroupRecords(ctx context.Context) ([]search.GroupRecord, error) {
	groups, err := r.Docs.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]search.GroupRecord, 0, len(groups))
	for _, g := range groups {
		records = append(records, groupRecord(g))
	}
	return records, nil
}

func groupRecord(g store.Group) search.GroupRecord {
	return search.GroupRecord{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Purpose:     g.Purpose,
		Properties:  g.Properties,
		Status:      g.Status,
	}
}

func (s *Service) indexGroup(g store.Group) {
	if s.index != nil {
		s.index.IndexGroup(groupRecord(g))
	}
}

// emailInvitation sends the invite email in the background when SMTP is
// configured and the recipient has a known address.
func (s *Service) emailInvitation(ctx context.Context, inv store.Invitation) {
	if !s.SMTPConfigured() || s.users == nil {
		return
	}
	recipient, err := s.users.GetUserByID(ctx, inv.RecipientID)
	if err != nil || recipient.Email == "" {
		return
	}
	inviterName := inv.InviterID
	if inviter, err := s.users.GetUserByID(ctx, inv.InviterID); err == nil && inviter.DisplayName != "" {
		inviterName = inviter.DisplayName
	}
	go func() {
		if err := s.mail.SendGroupInvitation(recipient.Email, inviterName, inv.GroupName, s.cfg.PublicURL); err != nil {
			slog.Warn("invitation email failed", "invitation_id", inv.ID, "error", err)
		}
	}()
}
