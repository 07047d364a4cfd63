// libctl is an operator CLI for the library API database: it creates admin
// accounts and seeds the catalog without going through the HTTP surface.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"libraryapi/internal/auth"
	"libraryapi/internal/models"
	"libraryapi/internal/repositories"
)

func main() {
	root := &cobra.Command{
		Use:          "libctl",
		Short:        "Operator tooling for the library API",
		SilenceUsage: true,
	}
	root.AddCommand(createAdminCmd(), seedCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

// readPassword reads a password from the terminal with echo disabled.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func createAdminCmd() *cobra.Command {
	var username, email string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an ADMIN user, prompting for the password",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}

			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			userRepo := repositories.NewUserRepository(db)
			user := &models.User{
				Username:     username,
				Email:        email,
				PasswordHash: hash,
				Role:         models.UserRoleAdmin,
				CreatedAt:    time.Now().UTC(),
			}
			if err := userRepo.Create(nil, user); err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			log.Printf("[INFO] created admin %q (id=%s)", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "admin username")
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the catalog with a small set of sample books",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}

			samples := []models.Book{
				{Title: "To Kill a Mockingbird", Author: "Harper Lee", ISBN: "978-0-06-112008-4"},
				{Title: "1984", Author: "George Orwell", ISBN: "978-0-452-28423-4"},
				{Title: "Pride and Prejudice", Author: "Jane Austen", ISBN: "978-0-14-143951-8"},
				{Title: "The Great Gatsby", Author: "F. Scott Fitzgerald", ISBN: "978-0-7432-7356-5"},
			}

			bookRepo := repositories.NewBookRepository(db)
			now := time.Now().UTC()
			var created int
			for i := range samples {
				book := samples[i]
				if _, err := bookRepo.GetByISBN(nil, book.ISBN); err == nil {
					continue // already seeded
				}
				book.Available = true
				book.CreatedAt = now
				book.UpdatedAt = now
				if err := bookRepo.Create(nil, &book); err != nil {
					return fmt.Errorf("seed book %q: %w", book.Title, err)
				}
				created++
			}
			log.Printf("[INFO] seeded %d book(s)", created)
			return nil
		},
	}
}
