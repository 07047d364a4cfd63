package services

import (
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"libraryapi/internal/apperrors"
	"libraryapi/internal/models"
	"libraryapi/internal/repositories"
)

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = apperrors.NotFound("BOOK_NOT_FOUND", "book not found")

	// ErrBookExists is returned when adding or updating a book would duplicate
	// an existing ISBN.
	ErrBookExists = apperrors.Conflict("BOOK_EXISTS", "book with this ISBN already exists")

	// ErrBookNotAvailable is returned when the book's availability could not be
	// claimed, including when a concurrent borrower claimed it first.
	ErrBookNotAvailable = apperrors.Conflict("BOOK_NOT_AVAILABLE", "book is currently not available")

	// ErrAlreadyBorrowed is returned when the user already holds an open borrow
	// for this book.
	ErrAlreadyBorrowed = apperrors.Conflict("ALREADY_BORROWED", "you have already borrowed this book")

	// ErrNoActiveBorrow is returned when no open borrow record exists for the
	// (user, book) pair, including when a concurrent return closed it first.
	ErrNoActiveBorrow = apperrors.NotFound("BORROW_RECORD_NOT_FOUND", "no active borrow record found for this book")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = apperrors.NotFound("USER_NOT_FOUND", "user not found")
)

// ─── Service Interface ────────────────────────────────────────────────────────

// AddBookInput carries the validated fields for a new catalog entry.
type AddBookInput struct {
	Title     string
	Author    string
	ISBN      string
	Available *bool
}

// UpdateBookInput carries a partial catalog update; nil fields are untouched.
type UpdateBookInput struct {
	Title     *string
	Author    *string
	ISBN      *string
	Available *bool
}

// BookDetail is a book together with its currently open borrow records.
type BookDetail struct {
	Book        *models.Book
	OpenBorrows []models.BorrowRecord
}

// Page describes a listing window. Zero values are normalized to page 1,
// limit 10.
type Page struct {
	Number int
	Limit  int
}

// LibraryService mediates all state changes to the catalog and the borrow
// ledger. Book availability and borrow-record status are written exclusively
// through Borrow and Return.
type LibraryService interface {
	AddBook(in AddBookInput) (*models.Book, error)
	GetBook(id uuid.UUID) (*BookDetail, error)
	ListBooks(filter repositories.BookFilter) ([]models.Book, int64, error)
	UpdateBook(id uuid.UUID, in UpdateBookInput) (*models.Book, error)
	DeleteBook(id uuid.UUID) error

	Borrow(bookID, userID uuid.UUID) (*models.BorrowRecord, error)
	Return(bookID, userID uuid.UUID) (*models.BorrowRecord, error)

	ListUserBorrows(userID uuid.UUID) ([]models.BorrowRecord, error)
}

// Transactor runs a function inside a database transaction; *gorm.DB
// satisfies it directly.
type Transactor interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// ─── Implementation ───────────────────────────────────────────────────────────

type libraryService struct {
	db         Transactor
	bookRepo   repositories.BookRepository
	borrowRepo repositories.BorrowRecordRepository
}

// NewLibraryService wires up all dependencies and returns a LibraryService.
func NewLibraryService(
	db Transactor,
	bookRepo repositories.BookRepository,
	borrowRepo repositories.BorrowRecordRepository,
) LibraryService {
	return &libraryService{
		db:         db,
		bookRepo:   bookRepo,
		borrowRepo: borrowRepo,
	}
}

// ─── Catalog Management ───────────────────────────────────────────────────────

// AddBook creates a catalog entry, rejecting duplicate ISBNs both by pre-check
// and by mapping the unique-constraint violation from a concurrent insert.
func (s *libraryService) AddBook(in AddBookInput) (*models.Book, error) {
	if _, err := s.bookRepo.GetByISBN(nil, in.ISBN); err == nil {
		return nil, ErrBookExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	available := true
	if in.Available != nil {
		available = *in.Available
	}

	now := time.Now().UTC()
	book := &models.Book{
		Title:     in.Title,
		Author:    in.Author,
		ISBN:      in.ISBN,
		Available: available,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.bookRepo.Create(nil, book); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrBookExists
		}
		log.Printf("[ERROR] AddBook: failed to create book: %v", err)
		return nil, err
	}
	log.Printf("[INFO] AddBook: created book %q (id=%s, isbn=%s)", book.Title, book.ID, book.ISBN)
	return book, nil
}

// GetBook returns a book with its currently open borrow records.
func (s *libraryService) GetBook(id uuid.UUID) (*BookDetail, error) {
	book, err := s.bookRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	open, err := s.borrowRepo.FindOpenByBook(nil, id)
	if err != nil {
		return nil, err
	}
	return &BookDetail{Book: book, OpenBorrows: open}, nil
}

// ListBooks returns a catalog page and the total match count.
func (s *libraryService) ListBooks(filter repositories.BookFilter) ([]models.Book, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 10
	}
	return s.bookRepo.List(nil, filter)
}

// UpdateBook applies a partial update. Changing the ISBN re-checks uniqueness.
func (s *libraryService) UpdateBook(id uuid.UUID, in UpdateBookInput) (*models.Book, error) {
	book, err := s.bookRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}

	fields := map[string]interface{}{}
	if in.Title != nil {
		fields["title"] = *in.Title
	}
	if in.Author != nil {
		fields["author"] = *in.Author
	}
	if in.ISBN != nil && *in.ISBN != book.ISBN {
		if _, err := s.bookRepo.GetByISBN(nil, *in.ISBN); err == nil {
			return nil, ErrBookExists
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		fields["isbn"] = *in.ISBN
	}
	if in.Available != nil {
		fields["available"] = *in.Available
	}
	if len(fields) == 0 {
		return book, nil
	}
	fields["updated_at"] = time.Now().UTC()

	if err := s.bookRepo.Update(nil, id, fields); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrBookExists
		}
		log.Printf("[ERROR] UpdateBook: failed to update book %s: %v", id, err)
		return nil, err
	}
	updated, err := s.bookRepo.GetByID(nil, id)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] UpdateBook: updated book %s", id)
	return updated, nil
}

// DeleteBook removes a book and its borrow history in one transaction. The
// explicit ledger purge mirrors the FK cascade so the effect does not depend
// on the constraint being present.
func (s *libraryService) DeleteBook(id uuid.UUID) error {
	if _, err := s.bookRepo.GetByID(nil, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBookNotFound
		}
		return err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.borrowRepo.DeleteByBook(tx, id); err != nil {
			log.Printf("[ERROR] DeleteBook: failed to delete borrow records for book %s: %v", id, err)
			return err
		}
		if err := s.bookRepo.Delete(tx, id); err != nil {
			log.Printf("[ERROR] DeleteBook: failed to delete book %s: %v", id, err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] DeleteBook: deleted book %s with its borrow history", id)
	return nil
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// Borrow implements the transactional borrow flow.
//
// Steps (all in one transaction):
//  1. Verify the book exists.
//  2. Guard against a double-borrow by the same user.
//  3. Claim availability with a single conditional update; losing the claim
//     means a concurrent borrower won and the caller observes the book as
//     not available.
//  4. Create the open borrow record.
//
// The conditional update in step 3, not an in-process lock, is what orders
// concurrent attempts: multiple server instances may run this flow at once
// and the store applies exactly one flip from available to unavailable.
func (s *libraryService) Borrow(bookID, userID uuid.UUID) (*models.BorrowRecord, error) {
	var record *models.BorrowRecord

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByID(tx, bookID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		if _, err := s.borrowRepo.FindOpen(tx, userID, bookID); err == nil {
			log.Printf("[WARN] Borrow: user %s already holds book %s", userID, bookID)
			return ErrAlreadyBorrowed
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		claimed, err := s.bookRepo.ConditionalSetAvailability(tx, bookID, true, false)
		if err != nil {
			log.Printf("[ERROR] Borrow: availability claim failed for book %s: %v", bookID, err)
			return err
		}
		if !claimed {
			return ErrBookNotAvailable
		}

		record = &models.BorrowRecord{
			BookID:     bookID,
			UserID:     userID,
			BorrowedAt: time.Now().UTC(),
			Status:     models.BorrowStatusBorrowed,
		}
		if err := s.borrowRepo.Create(tx, record); err != nil {
			log.Printf("[ERROR] Borrow: failed to create borrow record for user %s / book %s: %v", userID, bookID, err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] Borrow: user %s borrowed book %s (record=%s)", userID, bookID, record.ID)
	return record, nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// Return implements the transactional return flow.
//
// Steps (all in one transaction):
//  1. Find the caller's open borrow record for the book.
//  2. Close it with an update conditioned on the record still being open, so
//     only one of two concurrent returns succeeds.
//  3. Release the book back to available.
//
// A user can only return their own open borrow; no record for the
// (user, book) pair is reported the same way as no record at all.
func (s *libraryService) Return(bookID, userID uuid.UUID) (*models.BorrowRecord, error) {
	var updated *models.BorrowRecord

	err := s.db.Transaction(func(tx *gorm.DB) error {
		record, err := s.borrowRepo.FindOpen(tx, userID, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoActiveBorrow
			}
			return err
		}

		now := time.Now().UTC()
		closed, err := s.borrowRepo.MarkReturned(tx, record.ID, now)
		if err != nil {
			log.Printf("[ERROR] Return: failed to close record %s: %v", record.ID, err)
			return err
		}
		if !closed {
			// A concurrent return committed between the find and the update.
			return ErrNoActiveBorrow
		}

		if _, err := s.bookRepo.ConditionalSetAvailability(tx, bookID, false, true); err != nil {
			log.Printf("[ERROR] Return: failed to release book %s: %v", bookID, err)
			return err
		}

		record.Status = models.BorrowStatusReturned
		record.ReturnedAt = &now
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] Return: user %s returned book %s (record=%s)", userID, bookID, updated.ID)
	return updated, nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// ListUserBorrows returns all borrow records (open and closed) for a user.
func (s *libraryService) ListUserBorrows(userID uuid.UUID) ([]models.BorrowRecord, error) {
	return s.borrowRepo.ListByUser(nil, userID)
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

// isUniqueViolation checks whether a unique-constraint error occurred, either
// as GORM's translated error or as raw PostgreSQL error code 23505.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "23505")
}
