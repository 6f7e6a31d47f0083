package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddMembers inserts role members. Pairs already bound to the role are skipped.
// It returns the number of rows actually inserted.
func (s *Store) AddMembers(ctx context.Context, roleID uuid.UUID, members []RoleMember) (int, error) {
	query := `
		INSERT INTO role_members (id, role_id, member_id, type, creator_user_id, create_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (role_id, member_id, type) DO NOTHING
	`

	inserted := 0
	for i := range members {
		m := &members[i]
		if !m.Type.Valid() {
			return 0, fmt.Errorf("%w: member %s has unknown type %d", ErrInvalidArgument, m.MemberID, m.Type)
		}
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.CreateTime.IsZero() {
			m.CreateTime = time.Now()
		}
		m.RoleID = roleID

		result, err := s.db.ExecContext(ctx, query, m.ID, roleID, m.MemberID, int(m.Type), m.CreatorUserID, m.CreateTime)
		if err != nil {
			if pqCode(err) == pqForeignKeyViolation {
				return 0, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
			}
			return 0, persistErr("failed to add member", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return 0, persistErr("failed to get rows affected", err)
		}
		inserted += int(rowsAffected)
	}

	return inserted, nil
}

// DeleteMember removes one member record of a tenant's role and returns the role id
func (s *Store) DeleteMember(ctx context.Context, tenantID, memberRecordID uuid.UUID) (uuid.UUID, error) {
	query := `
		DELETE FROM role_members m
		USING roles r
		WHERE m.id = $1 AND m.role_id = r.id AND r.tenant_id = $2
		RETURNING m.role_id
	`

	var roleID uuid.UUID
	err := s.db.QueryRowContext(ctx, query, memberRecordID, tenantID).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: member %s", ErrNotFound, memberRecordID)
	}
	if err != nil {
		return uuid.Nil, persistErr("failed to remove member", err)
	}
	return roleID, nil
}

// ListMembers retrieves all members of a role
func (s *Store) ListMembers(ctx context.Context, roleID uuid.UUID) ([]RoleMember, error) {
	query := `
		SELECT id, role_id, member_id, type, creator_user_id, create_time
		FROM role_members
		WHERE role_id = $1
		ORDER BY create_time ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, persistErr("failed to list members", err)
	}
	defer rows.Close()

	members := []RoleMember{}
	for rows.Next() {
		var m RoleMember
		var memberType int
		if err := rows.Scan(&m.ID, &m.RoleID, &m.MemberID, &memberType, &m.CreatorUserID, &m.CreateTime); err != nil {
			return nil, persistErr("failed to scan member", err)
		}
		m.Type = MemberType(memberType)
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("failed to iterate members", err)
	}
	return members, nil
}

// CountMemberUsers counts the users bound directly to a role
func (s *Store) CountMemberUsers(ctx context.Context, tenantID, roleID uuid.UUID) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM role_members m
		JOIN users u ON u.id = m.member_id
		WHERE m.role_id = $1 AND m.type = $2 AND u.tenant_id = $3
	`

	var total int64
	if err := s.db.QueryRowContext(ctx, query, roleID, int(MemberUser), tenantID).Scan(&total); err != nil {
		return 0, persistErr("failed to count member users", err)
	}
	return total, nil
}

// ListMemberUsers lists the users bound directly to a role, ordered by login name
func (s *Store) ListMemberUsers(ctx context.Context, tenantID, roleID uuid.UUID, limit, offset int) ([]RoleMemberUser, error) {
	query := `
		SELECT m.id, m.role_id, u.id, u.name, u.login_name, u.description, u.validity
		FROM role_members m
		JOIN users u ON u.id = m.member_id
		WHERE m.role_id = $1 AND m.type = $2 AND u.tenant_id = $3
		ORDER BY u.login_name ASC
		LIMIT $4 OFFSET $5
	`

	rows, err := s.db.QueryContext(ctx, query, roleID, int(MemberUser), tenantID, limit, offset)
	if err != nil {
		return nil, persistErr("failed to list member users", err)
	}
	defer rows.Close()

	users := []RoleMemberUser{}
	for rows.Next() {
		var u RoleMemberUser
		var description sql.NullString
		if err := rows.Scan(&u.MemberRecordID, &u.RoleID, &u.UserID, &u.Name, &u.LoginName, &description, &u.Validity); err != nil {
			return nil, persistErr("failed to scan member user", err)
		}
		u.Description = description.String
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("failed to iterate member users", err)
	}
	return users, nil
}

// ListCandidates lists the principals of memberType that are not yet members of a role.
// Service accounts, hidden groups and invalid principals are left out.
// Users and organizations are ordered by creation time, groups by serial.
func (s *Store) ListCandidates(ctx context.Context, tenantID, roleID uuid.UUID, memberType MemberType) ([]Candidate, error) {
	var query string
	switch memberType {
	case MemberUser:
		query = `
			SELECT u.id, NULL::uuid, 0, 0, u.name, u.login_name, u.description
			FROM users u
			WHERE u.tenant_id = $1 AND u.validity AND u.type > 0
			  AND NOT EXISTS (
				SELECT 1 FROM role_members m
				WHERE m.role_id = $2 AND m.type = $3 AND m.member_id = u.id
			  )
			ORDER BY u.create_time ASC, u.id ASC
		`
	case MemberGroup:
		query = `
			SELECT g.id, g.parent_id, g.node_type, g.idx, g.name, NULL, g.description
			FROM user_groups g
			WHERE g.tenant_id = $1 AND g.visible
			  AND NOT EXISTS (
				SELECT 1 FROM role_members m
				WHERE m.role_id = $2 AND m.type = $3 AND m.member_id = g.id
			  )
			ORDER BY g.sn ASC
		`
	case MemberOrganization:
		query = `
			SELECT o.id, o.parent_id, o.node_type, o.idx, o.name, NULL, o.description
			FROM organizations o
			WHERE o.tenant_id = $1 AND o.validity
			  AND NOT EXISTS (
				SELECT 1 FROM role_members m
				WHERE m.role_id = $2 AND m.type = $3 AND m.member_id = o.id
			  )
			ORDER BY o.create_time ASC, o.id ASC
		`
	default:
		return nil, fmt.Errorf("%w: unknown member type %d", ErrInvalidArgument, memberType)
	}

	rows, err := s.db.QueryContext(ctx, query, tenantID, roleID, int(memberType))
	if err != nil {
		return nil, persistErr("failed to list candidates", err)
	}
	defer rows.Close()

	candidates := []Candidate{}
	for rows.Next() {
		c := Candidate{Type: memberType}
		var parentID uuid.NullUUID
		var loginName, description sql.NullString
		if err := rows.Scan(&c.ID, &parentID, &c.NodeType, &c.Index, &c.Name, &loginName, &description); err != nil {
			return nil, persistErr("failed to scan candidate", err)
		}
		if parentID.Valid {
			id := parentID.UUID
			c.ParentID = &id
		}
		c.LoginName = loginName.String
		c.Description = description.String
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("failed to iterate candidates", err)
	}
	return candidates, nil
}
