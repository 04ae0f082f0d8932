package auth

import (
	"context"
	"time"
)

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

type contextKey string

const (
	userContextKey contextKey = "auth_user"
	userSlotKey    contextKey = "auth_user_slot"
)

type userSlot struct {
	user *User
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func isValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// IsStaff reports whether u may author questions, manage exams and grade.
func IsStaff(u *User) bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleTeacher)
}

func CanGrade(u *User) bool {
	return IsStaff(u)
}

// OwnsAttempt reports whether u is the student who took the attempt.
func OwnsAttempt(u *User, studentID int64) bool {
	return u != nil && u.ID > 0 && u.ID == studentID
}

// CanManageExam allows admins and the teacher who created the exam.
func CanManageExam(u *User, createdBy int64) bool {
	return ownsOrAdmin(u, createdBy)
}

func CanManageQuestion(u *User, createdBy int64) bool {
	return ownsOrAdmin(u, createdBy)
}

func ownsOrAdmin(u *User, ownerID int64) bool {
	if u == nil {
		return false
	}
	if u.Role == RoleAdmin {
		return true
	}
	return u.Role == RoleTeacher && u.ID > 0 && u.ID == ownerID
}

// CanViewAttempt allows the owning student and any staff member.
func CanViewAttempt(u *User, studentID int64) bool {
	return OwnsAttempt(u, studentID) || IsStaff(u)
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}

// ContextWithUser injects an authenticated user into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	if slot, ok := ctx.Value(userSlotKey).(*userSlot); ok {
		slot.user = user
	}
	return context.WithValue(ctx, userContextKey, user)
}

// WithUserSlot returns a context in which a user authenticated further down
// the handler chain is also visible to the caller through RecordedUser.
func WithUserSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, userSlotKey, &userSlot{})
}

// RecordedUser returns the user set on a context derived from one prepared
// with WithUserSlot.
func RecordedUser(ctx context.Context) (*User, bool) {
	slot, ok := ctx.Value(userSlotKey).(*userSlot)
	if !ok || slot.user == nil {
		return nil, false
	}
	return slot.user, true
}
