package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"libraryapi/internal/apperrors"
	"libraryapi/internal/auth"
	"libraryapi/internal/models"
	"libraryapi/internal/ratelimit"
	"libraryapi/internal/repositories"
	"libraryapi/internal/services"
)

type LibraryHandler struct {
	svc     services.LibraryService
	authSvc services.AuthService
}

// RegisterRoutes wires all routes and middleware onto the router.
func RegisterRoutes(
	r *gin.Engine,
	svc services.LibraryService,
	authSvc services.AuthService,
	tokens *auth.TokenService,
	limiter *ratelimit.KeyedLimiter,
) {
	registerValidations()

	h := &LibraryHandler{svc: svc, authSvc: authSvc}

	r.Use(RateLimit(limiter))

	r.GET("/health", h.health)

	authRequired := RequireAuth(tokens)
	adminOnly := RequireRole(models.UserRoleAdmin)

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
		authGroup.GET("/verify", authRequired, h.verify)
		authGroup.POST("/logout", authRequired, h.logout)
	}

	books := r.Group("/api/books")
	{
		books.GET("", h.listBooks)
		books.GET("/available", h.listAvailableBooks)
		books.GET("/:id", h.getBook)
		books.POST("", authRequired, adminOnly, h.addBook)
		books.PUT("/:id", authRequired, adminOnly, h.updateBook)
		books.DELETE("/:id", authRequired, adminOnly, h.deleteBook)
		books.POST("/:id/borrow", authRequired, h.borrowBook)
		books.POST("/:id/return", authRequired, h.returnBook)
	}

	r.GET("/api/users/:id/borrows", authRequired, RequireSelfOrAdmin(), h.listUserBorrows)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"message": "route not found",
				"code":    apperrors.CodeRouteNotFound,
			},
		})
	})
}

// registerValidations adds custom rules to gin's validator engine.
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("strongpassword", strongPassword)
	}
}

// strongPassword requires at least one lowercase letter, one uppercase letter,
// and one digit.
func strongPassword(fl validator.FieldLevel) bool {
	var hasUpper, hasLower, hasDigit bool
	for _, r := range fl.Field().String() {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}

func (h *LibraryHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "library API is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ─── Auth ─────────────────────────────────────────────────────────────────────

type registerRequest struct {
	Username string `json:"username" binding:"required,alphanum,min=3,max=30"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=128,strongpassword"`
	Role     string `json:"role" binding:"omitempty,oneof=ADMIN MEMBER"`
}

func (h *LibraryHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	user, err := h.authSvc.Register(services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     models.UserRole(req.Role),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "user registered successfully",
		"user":    user,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *LibraryHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	token, user, err := h.authSvc.Login(req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "login successful",
		"token":   token,
		"user":    user,
	})
}

func (h *LibraryHandler) verify(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		writeError(c, apperrors.Unauthorized("AUTH_REQUIRED", "authentication required"))
		return
	}
	user, err := h.authSvc.GetUser(claims.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    user,
	})
}

func (h *LibraryHandler) logout(c *gin.Context) {
	// Tokens are stateless; logout is client-side token removal.
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "logout successful, please remove the token from client storage",
	})
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

// The page and limit rules must not be weakened with omitempty: an explicit
// zero would then skip min=1 and reach the pagination math as a divisor.
type listBooksQuery struct {
	Available *bool  `form:"available"`
	Search    string `form:"search" binding:"omitempty,max=100"`
	SearchBy  string `form:"searchBy,default=both" binding:"oneof=title author both"`
	Page      int    `form:"page,default=1" binding:"min=1"`
	Limit     int    `form:"limit,default=10" binding:"min=1,max=100"`
}

func (h *LibraryHandler) listBooks(c *gin.Context) {
	var q listBooksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeValidationError(c, err)
		return
	}
	h.renderBookList(c, repositories.BookFilter{
		Available: q.Available,
		Search:    q.Search,
		SearchBy:  q.SearchBy,
		Page:      q.Page,
		Limit:     q.Limit,
	})
}

func (h *LibraryHandler) listAvailableBooks(c *gin.Context) {
	var q listBooksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeValidationError(c, err)
		return
	}
	available := true
	h.renderBookList(c, repositories.BookFilter{
		Available: &available,
		Page:      q.Page,
		Limit:     q.Limit,
	})
}

func (h *LibraryHandler) renderBookList(c *gin.Context, filter repositories.BookFilter) {
	books, total, err := h.svc.ListBooks(filter)
	if err != nil {
		writeError(c, err)
		return
	}

	totalPages := (total + int64(filter.Limit) - 1) / int64(filter.Limit)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"books":   books,
		"pagination": gin.H{
			"currentPage": filter.Page,
			"totalPages":  totalPages,
			"totalBooks":  total,
			"hasNext":     int64(filter.Page) < totalPages,
			"hasPrev":     filter.Page > 1,
		},
	})
}

type openBorrowResponse struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	BorrowedAt time.Time `json:"borrowed_at"`
	Status     string    `json:"status"`
	Borrower   gin.H     `json:"borrower"`
}

func (h *LibraryHandler) getBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.Validation("invalid book id"))
		return
	}

	detail, err := h.svc.GetBook(bookID)
	if err != nil {
		writeError(c, err)
		return
	}

	open := make([]openBorrowResponse, 0, len(detail.OpenBorrows))
	for _, rec := range detail.OpenBorrows {
		open = append(open, openBorrowResponse{
			ID:         rec.ID,
			UserID:     rec.UserID,
			BorrowedAt: rec.BorrowedAt,
			Status:     string(rec.Status),
			Borrower: gin.H{
				"username": rec.User.Username,
				"email":    rec.User.Email,
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"book":           detail.Book,
		"borrow_records": open,
	})
}

type addBookRequest struct {
	Title     string `json:"title" binding:"required,min=1,max=200"`
	Author    string `json:"author" binding:"required,min=1,max=100"`
	ISBN      string `json:"isbn" binding:"required,isbn"`
	Available *bool  `json:"available"`
}

func (h *LibraryHandler) addBook(c *gin.Context) {
	var req addBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	book, err := h.svc.AddBook(services.AddBookInput{
		Title:     req.Title,
		Author:    req.Author,
		ISBN:      req.ISBN,
		Available: req.Available,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "book added successfully",
		"book":    book,
	})
}

type updateBookRequest struct {
	Title     *string `json:"title" binding:"omitempty,min=1,max=200"`
	Author    *string `json:"author" binding:"omitempty,min=1,max=100"`
	ISBN      *string `json:"isbn" binding:"omitempty,isbn"`
	Available *bool   `json:"available"`
}

func (h *LibraryHandler) updateBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.Validation("invalid book id"))
		return
	}

	var req updateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}
	if req.Title == nil && req.Author == nil && req.ISBN == nil && req.Available == nil {
		writeError(c, apperrors.Validation("at least one field must be provided for update"))
		return
	}

	book, err := h.svc.UpdateBook(bookID, services.UpdateBookInput{
		Title:     req.Title,
		Author:    req.Author,
		ISBN:      req.ISBN,
		Available: req.Available,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "book updated successfully",
		"book":    book,
	})
}

func (h *LibraryHandler) deleteBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.Validation("invalid book id"))
		return
	}

	if err := h.svc.DeleteBook(bookID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "book deleted successfully",
	})
}

// ─── Circulation ──────────────────────────────────────────────────────────────

func (h *LibraryHandler) borrowBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.Validation("invalid book id"))
		return
	}
	claims, ok := claimsFrom(c)
	if !ok {
		writeError(c, apperrors.Unauthorized("AUTH_REQUIRED", "authentication required"))
		return
	}

	record, err := h.svc.Borrow(bookID, claims.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "book borrowed successfully",
		"borrow_record": record,
	})
}

func (h *LibraryHandler) returnBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.Validation("invalid book id"))
		return
	}
	claims, ok := claimsFrom(c)
	if !ok {
		writeError(c, apperrors.Unauthorized("AUTH_REQUIRED", "authentication required"))
		return
	}

	record, err := h.svc.Return(bookID, claims.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "book returned successfully",
		"borrow_record": record,
	})
}

func (h *LibraryHandler) listUserBorrows(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.Validation("invalid user id"))
		return
	}

	records, err := h.svc.ListUserBorrows(userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"borrow_records": records,
	})
}
