package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"libraryapi/internal/models"
)

// Every method takes the session to run against as its first argument so
// services can pass a transaction handle; nil falls back to the default
// session.

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error)
	GetByEmail(db *gorm.DB, email string) (*models.User, error)
	FindByEmailOrUsername(db *gorm.DB, email, username string) (*models.User, error)
}

// BookFilter narrows and paginates catalog listings.
type BookFilter struct {
	Available *bool
	Search    string
	SearchBy  string // "title", "author", or "both"
	Page      int
	Limit     int
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByISBN(db *gorm.DB, isbn string) (*models.Book, error)
	List(db *gorm.DB, filter BookFilter) ([]models.Book, int64, error)
	Update(db *gorm.DB, id uuid.UUID, fields map[string]interface{}) error
	Delete(db *gorm.DB, id uuid.UUID) error

	// ConditionalSetAvailability flips the availability flag only when its
	// current value matches expected, returning whether the update applied.
	// This single conditional statement is the serialization point for
	// concurrent borrow attempts on the same book.
	ConditionalSetAvailability(db *gorm.DB, id uuid.UUID, expected, newValue bool) (bool, error)
}

type BorrowRecordRepository interface {
	Create(db *gorm.DB, record *models.BorrowRecord) error
	FindOpen(db *gorm.DB, userID, bookID uuid.UUID) (*models.BorrowRecord, error)
	FindOpenByBook(db *gorm.DB, bookID uuid.UUID) ([]models.BorrowRecord, error)

	// MarkReturned closes the record only while it is still open, returning
	// whether the update applied. A concurrent return that committed first
	// leaves nothing to close.
	MarkReturned(db *gorm.DB, recordID uuid.UUID, returnedAt time.Time) (bool, error)

	GetByID(db *gorm.DB, recordID uuid.UUID) (*models.BorrowRecord, error)
	ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.BorrowRecord, error)
	DeleteByBook(db *gorm.DB, bookID uuid.UUID) error
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(db *gorm.DB, user *models.User) error {
	if db == nil {
		db = r.db
	}
	return db.Create(user).Error
}

func (r *userRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(db *gorm.DB, email string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmailOrUsername(db *gorm.DB, email, username string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.Where("email = ? OR username = ?", email, username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) GetByISBN(db *gorm.DB, isbn string) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "isbn = ?", isbn).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) List(db *gorm.DB, filter BookFilter) ([]models.Book, int64, error) {
	if db == nil {
		db = r.db
	}

	query := db.Model(&models.Book{})
	if filter.Available != nil {
		query = query.Where("available = ?", *filter.Available)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		switch filter.SearchBy {
		case "title":
			query = query.Where("title ILIKE ?", pattern)
		case "author":
			query = query.Where("author ILIKE ?", pattern)
		default:
			query = query.Where("title ILIKE ? OR author ILIKE ?", pattern, pattern)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	var books []models.Book
	if err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&books).Error; err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (r *bookRepository) Update(db *gorm.DB, id uuid.UUID, fields map[string]interface{}) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("id = ?", id).
		Updates(fields).
		Error
}

func (r *bookRepository) Delete(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Book{}, "id = ?", id).Error
}

func (r *bookRepository) ConditionalSetAvailability(db *gorm.DB, id uuid.UUID, expected, newValue bool) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND available = ?", id, expected).
		Updates(map[string]interface{}{
			"available":  newValue,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type borrowRecordRepository struct {
	db *gorm.DB
}

func NewBorrowRecordRepository(db *gorm.DB) BorrowRecordRepository {
	return &borrowRecordRepository{db: db}
}

func (r *borrowRecordRepository) Create(db *gorm.DB, record *models.BorrowRecord) error {
	if db == nil {
		db = r.db
	}
	return db.Create(record).Error
}

func (r *borrowRecordRepository) FindOpen(db *gorm.DB, userID, bookID uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	err := db.
		Where("user_id = ? AND book_id = ? AND status = ?", userID, bookID, models.BorrowStatusBorrowed).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *borrowRecordRepository) FindOpenByBook(db *gorm.DB, bookID uuid.UUID) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	err := db.
		Preload("User").
		Where("book_id = ? AND status = ?", bookID, models.BorrowStatusBorrowed).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *borrowRecordRepository) MarkReturned(db *gorm.DB, recordID uuid.UUID, returnedAt time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.BorrowRecord{}).
		Where("id = ? AND status = ?", recordID, models.BorrowStatusBorrowed).
		Updates(map[string]interface{}{
			"status":      models.BorrowStatusReturned,
			"returned_at": returnedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *borrowRecordRepository) GetByID(db *gorm.DB, recordID uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	if err := db.First(&record, "id = ?", recordID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *borrowRecordRepository) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	if err := db.
		Where("user_id = ?", userID).
		Order("borrowed_at DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *borrowRecordRepository) DeleteByBook(db *gorm.DB, bookID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.BorrowRecord{}, "book_id = ?", bookID).Error
}
