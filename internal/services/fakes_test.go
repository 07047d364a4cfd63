package services

import (
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"libraryapi/internal/models"
	"libraryapi/internal/repositories"
)

// In-memory fakes for the catalog store and borrow ledger. They ignore the
// session argument and guard shared state with a mutex, so the conditional
// updates behave like the database's atomic statements under concurrent use.

type fakeStore struct {
	mu      sync.Mutex
	books   map[uuid.UUID]*models.Book
	records map[uuid.UUID]*models.BorrowRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		books:   make(map[uuid.UUID]*models.Book),
		records: make(map[uuid.UUID]*models.BorrowRecord),
	}
}

// addBook seeds a book directly, bypassing the service.
func (s *fakeStore) addBook(title, author, isbn string, available bool) *models.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	book := &models.Book{
		ID:        uuid.New(),
		Title:     title,
		Author:    author,
		ISBN:      isbn,
		Available: available,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.books[book.ID] = book
	return book
}

// consistent reports whether every book's availability flag agrees with its
// open borrow records.
func (s *fakeStore) consistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, book := range s.books {
		open := 0
		for _, rec := range s.records {
			if rec.BookID == id && rec.Status == models.BorrowStatusBorrowed {
				open++
			}
		}
		if book.Available != (open == 0) {
			return false
		}
		if open > 1 {
			return false
		}
	}
	return true
}

func (s *fakeStore) openRecordCount(bookID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.BookID == bookID && rec.Status == models.BorrowStatusBorrowed {
			n++
		}
	}
	return n
}

func (s *fakeStore) recordCount(bookID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.BookID == bookID {
			n++
		}
	}
	return n
}

type fakeBookRepo struct {
	store *fakeStore
}

func (r *fakeBookRepo) Create(_ *gorm.DB, book *models.Book) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.books {
		if existing.ISBN == book.ISBN {
			return gorm.ErrDuplicatedKey
		}
	}
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	clone := *book
	r.store.books[book.ID] = &clone
	return nil
}

func (r *fakeBookRepo) GetByID(_ *gorm.DB, id uuid.UUID) (*models.Book, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	book, ok := r.store.books[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *book
	return &clone, nil
}

func (r *fakeBookRepo) GetByISBN(_ *gorm.DB, isbn string) (*models.Book, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, book := range r.store.books {
		if book.ISBN == isbn {
			clone := *book
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeBookRepo) List(_ *gorm.DB, filter repositories.BookFilter) ([]models.Book, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var matched []models.Book
	for _, book := range r.store.books {
		if filter.Available != nil && book.Available != *filter.Available {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			title := strings.Contains(strings.ToLower(book.Title), needle)
			author := strings.Contains(strings.ToLower(book.Author), needle)
			switch filter.SearchBy {
			case "title":
				if !title {
					continue
				}
			case "author":
				if !author {
					continue
				}
			default:
				if !title && !author {
					continue
				}
			}
		}
		matched = append(matched, *book)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	offset := (filter.Page - 1) * filter.Limit
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *fakeBookRepo) Update(_ *gorm.DB, id uuid.UUID, fields map[string]interface{}) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	book, ok := r.store.books[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := fields["title"]; ok {
		book.Title = v.(string)
	}
	if v, ok := fields["author"]; ok {
		book.Author = v.(string)
	}
	if v, ok := fields["isbn"]; ok {
		book.ISBN = v.(string)
	}
	if v, ok := fields["available"]; ok {
		book.Available = v.(bool)
	}
	if v, ok := fields["updated_at"]; ok {
		book.UpdatedAt = v.(time.Time)
	}
	return nil
}

func (r *fakeBookRepo) Delete(_ *gorm.DB, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.books, id)
	return nil
}

func (r *fakeBookRepo) ConditionalSetAvailability(_ *gorm.DB, id uuid.UUID, expected, newValue bool) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	book, ok := r.store.books[id]
	if !ok || book.Available != expected {
		return false, nil
	}
	book.Available = newValue
	book.UpdatedAt = time.Now().UTC()
	return true, nil
}

type fakeBorrowRepo struct {
	store *fakeStore
}

func (r *fakeBorrowRepo) Create(_ *gorm.DB, record *models.BorrowRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	clone := *record
	r.store.records[record.ID] = &clone
	return nil
}

func (r *fakeBorrowRepo) FindOpen(_ *gorm.DB, userID, bookID uuid.UUID) (*models.BorrowRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, rec := range r.store.records {
		if rec.UserID == userID && rec.BookID == bookID && rec.Status == models.BorrowStatusBorrowed {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeBorrowRepo) FindOpenByBook(_ *gorm.DB, bookID uuid.UUID) ([]models.BorrowRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.BorrowRecord
	for _, rec := range r.store.records {
		if rec.BookID == bookID && rec.Status == models.BorrowStatusBorrowed {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeBorrowRepo) MarkReturned(_ *gorm.DB, recordID uuid.UUID, returnedAt time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[recordID]
	if !ok || rec.Status != models.BorrowStatusBorrowed {
		return false, nil
	}
	rec.Status = models.BorrowStatusReturned
	rec.ReturnedAt = &returnedAt
	return true, nil
}

func (r *fakeBorrowRepo) GetByID(_ *gorm.DB, recordID uuid.UUID) (*models.BorrowRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[recordID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *fakeBorrowRepo) ListByUser(_ *gorm.DB, userID uuid.UUID) ([]models.BorrowRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.BorrowRecord
	for _, rec := range r.store.records {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BorrowedAt.After(out[j].BorrowedAt)
	})
	return out, nil
}

func (r *fakeBorrowRepo) DeleteByBook(_ *gorm.DB, bookID uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, rec := range r.store.records {
		if rec.BookID == bookID {
			delete(r.store.records, id)
		}
	}
	return nil
}

// fakeTransactor runs the function directly; the fakes supply their own
// atomicity via the store mutex.
type fakeTransactor struct{}

func (fakeTransactor) Transaction(fc func(tx *gorm.DB) error, _ ...*sql.TxOptions) error {
	return fc(nil)
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*models.User)}
}

func (r *fakeUserRepo) Create(_ *gorm.DB, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email || existing.Username == user.Username {
			return gorm.ErrDuplicatedKey
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByID(_ *gorm.DB, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetByEmail(_ *gorm.DB, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) FindByEmailOrUsername(_ *gorm.DB, email, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email || user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
