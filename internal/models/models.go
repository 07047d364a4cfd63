package models

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin  UserRole = "ADMIN"
	UserRoleMember UserRole = "MEMBER"
)

type BorrowStatus string

const (
	BorrowStatusBorrowed BorrowStatus = "BORROWED"
	BorrowStatusReturned BorrowStatus = "RETURNED"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Username     string    `gorm:"size:30;not null;uniqueIndex" json:"username"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         UserRole  `gorm:"type:user_role;not null;default:'MEMBER'" json:"role"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

type Book struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title     string    `gorm:"size:200;not null" json:"title"`
	Author    string    `gorm:"size:100;not null" json:"author"`
	ISBN      string    `gorm:"size:20;not null;uniqueIndex" json:"isbn"`
	Available bool      `gorm:"not null;default:true;index" json:"available"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	BorrowRecords []BorrowRecord `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

type BorrowRecord struct {
	ID         uuid.UUID    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	BookID     uuid.UUID    `gorm:"type:uuid;not null;index" json:"book_id"`
	Book       Book         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID     uuid.UUID    `gorm:"type:uuid;not null;index" json:"user_id"`
	User       User         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	BorrowedAt time.Time    `gorm:"not null" json:"borrowed_at"`
	ReturnedAt *time.Time   `json:"returned_at"`
	Status     BorrowStatus `gorm:"type:borrow_status;not null;index" json:"status"`
}
